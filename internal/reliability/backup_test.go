package reliability

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketecho/marketecho/internal/database"
)

func newTestDatabases(t *testing.T) map[string]*database.DB {
	t.Helper()

	dir := t.TempDir()
	databases := make(map[string]*database.DB)
	for _, name := range []string{"statements", "results"} {
		db, err := database.New(database.Config{
			Path:    filepath.Join(dir, name+".db"),
			Profile: database.ProfileStandard,
			Name:    name,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		_, err = db.Exec(`CREATE TABLE entries (id TEXT PRIMARY KEY, value TEXT)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO entries (id, value) VALUES ('a', 'one'), ('b', 'two')`)
		require.NoError(t, err)

		databases[name] = db
	}
	return databases
}

func readArchive(t *testing.T, path string) map[string][]byte {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = data
	}
	return files
}

func TestCreateBackupProducesArchive(t *testing.T) {
	databases := newTestDatabases(t)
	backupDir := filepath.Join(t.TempDir(), "backups")
	svc := NewBackupService(databases, backupDir, zerolog.Nop())

	require.NoError(t, svc.CreateBackup())

	backups, err := svc.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)

	files := readArchive(t, filepath.Join(backupDir, backups[0].Filename))
	assert.Contains(t, files, "statements.db")
	assert.Contains(t, files, "results.db")
	require.Contains(t, files, "backup-metadata.json")

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &metadata))
	require.Len(t, metadata.Databases, 2)
	for _, db := range metadata.Databases {
		assert.Contains(t, []string{"statements", "results"}, db.Name)
		assert.Greater(t, db.SizeBytes, int64(0))
		assert.Contains(t, db.Checksum, "sha256:")
	}
}

func TestListBackupsEmptyDir(t *testing.T) {
	svc := NewBackupService(nil, filepath.Join(t.TempDir(), "missing"), zerolog.Nop())

	backups, err := svc.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRotateOldBackupsKeepsMinimum(t *testing.T) {
	backupDir := t.TempDir()
	svc := NewBackupService(nil, backupDir, zerolog.Nop())

	// Five archives, all well past retention
	base := time.Now().AddDate(0, 0, -30)
	for i := 0; i < 5; i++ {
		name := archivePrefix + base.Add(time.Duration(i)*time.Hour).Format("2006-01-02-150405") + ".tar.gz"
		require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("x"), 0644))
	}

	require.NoError(t, svc.RotateOldBackups(7))

	backups, err := svc.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 3, "newest three survive rotation")
}

func TestRotateZeroRetentionKeepsEverything(t *testing.T) {
	backupDir := t.TempDir()
	svc := NewBackupService(nil, backupDir, zerolog.Nop())

	base := time.Now().AddDate(0, 0, -365)
	for i := 0; i < 5; i++ {
		name := archivePrefix + base.Add(time.Duration(i)*time.Hour).Format("2006-01-02-150405") + ".tar.gz"
		require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("x"), 0644))
	}

	require.NoError(t, svc.RotateOldBackups(0))

	backups, err := svc.ListBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 5)
}

func TestMaintenanceRun(t *testing.T) {
	databases := newTestDatabases(t)
	job := NewMaintenanceJob(databases, zerolog.Nop())

	require.NoError(t, job.Run())

	// Data survives the maintenance pass
	var count int
	require.NoError(t, databases["statements"].QueryRow("SELECT COUNT(*) FROM entries").Scan(&count))
	assert.Equal(t, 2, count)
}
