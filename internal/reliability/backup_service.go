// Package reliability backs up and maintains the rebalancer's data files.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/volbalance/internal/database"
	"github.com/rs/zerolog"
)

const (
	archivePrefix    = "volbalance-backup-"
	archiveSuffix    = ".tar.gz"
	archiveTimeFmt   = "2006-01-02-150405"
	metadataName     = "backup-metadata.json"
	minBackupsToKeep = 3
)

// BackupMetadata describes the contents of an archive
type BackupMetadata struct {
	Timestamp time.Time      `json:"timestamp"`
	Version   string         `json:"version"`
	Files     []FileMetadata `json:"files"`
}

// FileMetadata describes one file in an archive
type FileMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo is a backup found in the store
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService snapshots the state and ledger databases plus the ledger CSV
// into a tar.gz archive and uploads it to an ObjectStore.
type BackupService struct {
	store     ObjectStore
	databases map[string]*database.DB
	files     []string
	dataDir   string
	prefix    string
	log       zerolog.Logger
}

// NewBackupService creates a new backup service.
// files are extra plain files (e.g. the ledger CSV) copied as-is.
func NewBackupService(
	store ObjectStore,
	databases map[string]*database.DB,
	files []string,
	dataDir string,
	prefix string,
	log zerolog.Logger,
) *BackupService {
	return &BackupService{
		store:     store,
		databases: databases,
		files:     files,
		dataDir:   dataDir,
		prefix:    strings.Trim(prefix, "/"),
		log:       log.With().Str("service", "backup").Logger(),
	}
}

func (s *BackupService) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// CreateAndUploadBackup builds an archive and uploads it, returning its key
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) (string, error) {
	s.log.Info().Msg("Starting backup")
	startTime := time.Now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Version:   "1",
	}
	var names []string

	dbNames := make([]string, 0, len(s.databases))
	for name := range s.databases {
		dbNames = append(dbNames, name)
	}
	sort.Strings(dbNames)

	for _, name := range dbNames {
		filename := name + ".db"
		dst := filepath.Join(stagingDir, filename)
		if err := s.backupDatabase(ctx, s.databases[name], dst); err != nil {
			return "", fmt.Errorf("failed to backup %s: %w", name, err)
		}
		if err := verifyBackup(dst); err != nil {
			return "", fmt.Errorf("backup of %s failed verification: %w", name, err)
		}
		fm, err := describe(dst, filename)
		if err != nil {
			return "", err
		}
		metadata.Files = append(metadata.Files, fm)
		names = append(names, filename)
	}

	for _, src := range s.files {
		filename := filepath.Base(src)
		dst := filepath.Join(stagingDir, filename)
		if err := copyFile(src, dst); err != nil {
			if os.IsNotExist(err) {
				s.log.Debug().Str("file", src).Msg("Skipping missing file")
				continue
			}
			return "", fmt.Errorf("failed to copy %s: %w", src, err)
		}
		fm, err := describe(dst, filename)
		if err != nil {
			return "", err
		}
		metadata.Files = append(metadata.Files, fm)
		names = append(names, filename)
	}

	if err := writeMetadata(filepath.Join(stagingDir, metadataName), metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	names = append(names, metadataName)

	archiveName := archivePrefix + time.Now().UTC().Format(archiveTimeFmt) + archiveSuffix
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, stagingDir, names); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archiveFile.Close()

	key := s.key(archiveName)
	if err := s.store.Upload(ctx, key, archiveFile); err != nil {
		return "", fmt.Errorf("failed to upload backup: %w", err)
	}

	s.log.Info().
		Dur("duration", time.Since(startTime)).
		Str("key", key).
		Int("files", len(metadata.Files)).
		Msg("Backup completed")

	return key, nil
}

// backupDatabase uses VACUUM INTO for a consistent copy without WAL files
func (s *BackupService) backupDatabase(ctx context.Context, db *database.DB, dst string) error {
	escaped := strings.ReplaceAll(dst, "'", "''")
	if _, err := db.Conn().ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		return fmt.Errorf("VACUUM INTO failed: %w", err)
	}
	return nil
}

// ListBackups lists backups in the store, newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, s.key(archivePrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := time.Now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		base := path.Base(obj.Key)
		if !strings.HasPrefix(base, archivePrefix) || !strings.HasSuffix(base, archiveSuffix) {
			continue
		}
		ts, err := time.Parse(archiveTimeFmt, strings.TrimSuffix(strings.TrimPrefix(base, archivePrefix), archiveSuffix))
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("Failed to parse timestamp from backup name")
			continue
		}
		backups = append(backups, BackupInfo{
			Key:       obj.Key,
			Timestamp: ts,
			SizeBytes: obj.Size,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups older than retentionDays, always keeping
// the newest three. retentionDays of 0 keeps everything.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, b := range backups[minBackupsToKeep:] {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	s.log.Info().
		Int("deleted", deleted).
		Int("remaining", len(backups)-deleted).
		Msg("Backup rotation completed")
	return deleted, nil
}

func verifyBackup(p string) error {
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func describe(p, name string) (FileMetadata, error) {
	info, err := os.Stat(p)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	sum, err := checksum(p)
	if err != nil {
		return FileMetadata{}, fmt.Errorf("failed to checksum %s: %w", name, err)
	}
	return FileMetadata{Name: name, SizeBytes: info.Size(), Checksum: sum}, nil
}

func checksum(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeMetadata(p string, metadata BackupMetadata) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, names []string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for _, name := range names {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFileToArchive(tw *tar.Writer, filePath, nameInArchive string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
