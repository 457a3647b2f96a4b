package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/fsutil"
	"github.com/mattjoyce/satchel/internal/log"
	"github.com/mattjoyce/satchel/internal/script"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

type appEnv struct {
	appsDir    string
	scriptsTmp string
	workspace  string
	outDir     string
	runner     *Runner
}

func newAppEnv(t *testing.T) *appEnv {
	t.Helper()
	root := t.TempDir()
	env := &appEnv{
		appsDir:    filepath.Join(root, "apps"),
		scriptsTmp: filepath.Join(root, "scripts"),
		workspace:  filepath.Join(root, "ws"),
		outDir:     filepath.Join(root, "out"),
	}
	for _, dir := range []string{env.appsDir, env.scriptsTmp, env.workspace, env.outDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	env.runner = NewRunner(NewFSRegistry(env.appsDir), script.NewExecRunner(10*time.Second, ""), env.appsDir, env.scriptsTmp)
	env.runner.now = func() time.Time { return time.Unix(1700000000, 0) }

	// Restored settings trees are read-only.
	t.Cleanup(func() { _ = fsutil.RemoveTree(env.appsDir) })
	return env
}

// installApp writes <appsDir>/<id> with a manifest and the given scripts.
// An empty script body means the script is absent.
func (e *appEnv) installApp(t *testing.T, id, backupBody, restoreBody string) {
	t.Helper()
	dir := filepath.Join(e.appsDir, id)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))
	manifest := "id: " + id + "\nname: " + id + " app\nversion: \"1.2\"\ndescription:\n  en: The " + id + " app\n  fr: L'app " + id + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yml"), []byte("id: "+id+"\n"), 0o600))
	if backupBody != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "backup"), []byte("#!/bin/bash\n"+backupBody), 0o755))
	}
	if restoreBody != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "restore"), []byte("#!/bin/bash\n"+restoreBody), 0o755))
	}
}

func (e *appEnv) restoreBody() string {
	return `cp "$1/data.txt" "` + e.outDir + `/$2.restored"` + "\n"
}

const backupBody = `echo "payload of $2" > "$1/data.txt"` + "\n"

func TestFSRegistryInfo(t *testing.T) {
	env := newAppEnv(t)
	env.installApp(t, "wiki", backupBody, "")
	reg := NewFSRegistry(env.appsDir)

	info, err := reg.Info("wiki")
	require.NoError(t, err)
	assert.Equal(t, archive.AppInfo{Version: "1.2", Name: "wiki app", Description: "The wiki app"}, info)

	_, err = reg.Info("missing")
	assert.ErrorIs(t, err, ErrNotInstalled)

	ids, err := reg.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"wiki"}, ids)

	assert.False(t, reg.IsInstalled("../etc"))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "plain", describe("plain"))
	assert.Equal(t, "english", describe(map[string]any{"fr": "francais", "en": "english"}))
	assert.Equal(t, "deutsch", describe(map[string]any{"fr": 3, "de": "deutsch"}))
	assert.Equal(t, "", describe(nil))
}

func TestBackupIsolatesFailures(t *testing.T) {
	env := newAppEnv(t)
	env.installApp(t, "wiki", backupBody, env.restoreBody())
	env.installApp(t, "broken", "echo boom >&2\nexit 1\n", env.restoreBody())
	env.installApp(t, "noscript", "", "")

	apps, report := env.runner.Backup(context.Background(), env.workspace, nil)

	require.Contains(t, apps, "wiki")
	assert.Equal(t, "1.2", apps["wiki"].Version)
	assert.NotContains(t, apps, "broken")
	assert.NotContains(t, apps, "noscript")

	assert.Equal(t, StatusSucceeded, report["wiki"].Status)
	assert.Equal(t, StatusFailed, report["broken"].Status)
	assert.Equal(t, StatusSkipped, report["noscript"].Status)

	data, err := os.ReadFile(filepath.Join(env.workspace, "apps", "wiki", "backup", "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload of wiki\n", string(data))
	assert.FileExists(t, filepath.Join(env.workspace, "apps", "wiki", "settings", "settings.yml"))
	assert.NoDirExists(t, filepath.Join(env.workspace, "apps", "broken"))

	staged, err := os.ReadDir(env.scriptsTmp)
	require.NoError(t, err)
	assert.Empty(t, staged, "staged scripts must be removed")
}

func TestBackupRequestedSubset(t *testing.T) {
	env := newAppEnv(t)
	env.installApp(t, "wiki", backupBody, env.restoreBody())
	env.installApp(t, "blog", backupBody, env.restoreBody())

	apps, report := env.runner.Backup(context.Background(), env.workspace, []string{"blog", "ghost", "blog"})

	assert.Len(t, apps, 1)
	assert.Contains(t, apps, "blog")
	assert.Equal(t, StatusSkipped, report["ghost"].Status)
	assert.NotContains(t, report, "wiki")
}

func TestBackupStagesScriptReadOnly(t *testing.T) {
	env := newAppEnv(t)
	modeFile := filepath.Join(env.outDir, "mode")
	env.installApp(t, "wiki", `stat -c %a "$0" > `+modeFile+"\n"+`pwd -P > `+env.outDir+"/cwd\n", "")

	_, report := env.runner.Backup(context.Background(), env.workspace, nil)
	require.Equal(t, StatusSucceeded, report["wiki"].Status)

	mode, err := os.ReadFile(modeFile)
	require.NoError(t, err)
	assert.Equal(t, "555\n", string(mode))

	cwd, err := os.ReadFile(filepath.Join(env.outDir, "cwd"))
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(filepath.Join(env.workspace, "apps", "wiki", "backup"))
	require.NoError(t, err)
	assert.Equal(t, want+"\n", string(cwd))
}

func TestRestoreRoundTrip(t *testing.T) {
	env := newAppEnv(t)
	env.installApp(t, "wiki", backupBody, env.restoreBody())
	archived, _ := env.runner.Backup(context.Background(), env.workspace, nil)
	require.Contains(t, archived, "wiki")

	require.NoError(t, os.RemoveAll(filepath.Join(env.appsDir, "wiki")))

	restored, report := env.runner.Restore(context.Background(), env.workspace, archived, nil)
	assert.Equal(t, []string{"wiki"}, restored)
	assert.Equal(t, StatusSucceeded, report["wiki"].Status)

	data, err := os.ReadFile(filepath.Join(env.outDir, "wiki.restored"))
	require.NoError(t, err)
	assert.Equal(t, "payload of wiki\n", string(data))

	live := filepath.Join(env.appsDir, "wiki")
	info, err := os.Stat(live)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o555), info.Mode().Perm())
	info, err = os.Stat(filepath.Join(live, "settings.yml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o400), info.Mode().Perm())
	info, err = os.Stat(filepath.Join(live, "manifest.yaml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	// A second restore finds the application installed and leaves it alone.
	restored, report = env.runner.Restore(context.Background(), env.workspace, archived, nil)
	assert.Empty(t, restored)
	assert.Equal(t, StatusFailed, report["wiki"].Status)
	assert.Equal(t, "already installed", report["wiki"].Reason)
}

func TestRestoreFailureRemovesLiveSettings(t *testing.T) {
	env := newAppEnv(t)
	env.installApp(t, "wiki", backupBody, "exit 3\n")
	archived, _ := env.runner.Backup(context.Background(), env.workspace, nil)
	require.NoError(t, os.RemoveAll(filepath.Join(env.appsDir, "wiki")))

	restored, report := env.runner.Restore(context.Background(), env.workspace, archived, []string{"wiki", "ghost"})

	assert.Empty(t, restored)
	assert.Equal(t, StatusFailed, report["wiki"].Status)
	assert.Equal(t, StatusSkipped, report["ghost"].Status)
	assert.NoDirExists(t, filepath.Join(env.appsDir, "wiki"))
}

func TestRestoreSkipsAppWithoutRestoreScript(t *testing.T) {
	env := newAppEnv(t)
	env.installApp(t, "wiki", backupBody, "")
	archived, _ := env.runner.Backup(context.Background(), env.workspace, nil)
	require.NoError(t, os.RemoveAll(filepath.Join(env.appsDir, "wiki")))

	restored, report := env.runner.Restore(context.Background(), env.workspace, archived, nil)
	assert.Empty(t, restored)
	assert.Equal(t, StatusSkipped, report["wiki"].Status)
	assert.NoDirExists(t, filepath.Join(env.appsDir, "wiki"))
}
