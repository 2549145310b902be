package batch

import (
	"time"

	"batchzip/internal/models"
	"batchzip/internal/pathnorm"
	"batchzip/pkg/utils"
)

type PlannedEntry struct {
	FileID     string `json:"file_id"`
	StorageKey string `json:"storage_key"`
	EntryPath  string `json:"entry_path"`
}

// BatchPlan is what a batch would produce if every file were reachable.
type BatchPlan struct {
	CacheKey        string         `json:"cache_key"`
	ArchiveFileName string         `json:"archive_file_name"`
	DestinationKey  string         `json:"destination_key"`
	Entries         []PlannedEntry `json:"entries"`
}

func Plan(task models.BatchTask, archivePrefix string, now time.Time) BatchPlan {
	name := utils.ArchiveName(task.TargetName, now)
	plan := BatchPlan{
		CacheKey:        task.CacheKey,
		ArchiveFileName: name,
		DestinationKey:  DestinationKey(task, archivePrefix, name),
		Entries:         make([]PlannedEntry, 0, len(task.Files)),
	}

	names := pathnorm.NewNameSet()
	for _, f := range task.Files {
		plan.Entries = append(plan.Entries, PlannedEntry{
			FileID:     f.ID,
			StorageKey: f.StorageKey,
			EntryPath:  names.Claim(pathnorm.ComputeEntryPath(task.Workdir, f.StorageKey)),
		})
	}
	return plan
}

// DestinationKey is targetPath/name, or <prefix><org>/name without a target
// path.
func DestinationKey(task models.BatchTask, archivePrefix, name string) string {
	if task.TargetPath != "" {
		return utils.BuildRemotePath(task.TargetPath, name)
	}
	return utils.BuildRemotePath(archivePrefix+task.OrganizationCode, name)
}
