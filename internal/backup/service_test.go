package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/satchel/internal/app"
	"github.com/mattjoyce/satchel/internal/archive"
	"github.com/mattjoyce/satchel/internal/backup/mocks"
	"github.com/mattjoyce/satchel/internal/fsutil"
	"github.com/mattjoyce/satchel/internal/hook"
	"github.com/mattjoyce/satchel/internal/journal"
	"github.com/mattjoyce/satchel/internal/lock"
	"github.com/mattjoyce/satchel/internal/log"
	"github.com/mattjoyce/satchel/internal/script"
	"github.com/mattjoyce/satchel/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR") // Suppress logs in tests
	os.Exit(m.Run())
}

const defaultName = "20240101-120000"

type testEnv struct {
	backupRoot string
	appsDir    string
	hooksDir   string
	customDir  string
	outDir     string

	platform *mocks.MockPlatform
	confirm  *mocks.MockConfirmer
	space    *mocks.MockSpaceProbe
	journal  *journal.Journal
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	root := t.TempDir()

	env := &testEnv{
		backupRoot: filepath.Join(root, "backup"),
		appsDir:    filepath.Join(root, "apps"),
		hooksDir:   filepath.Join(root, "hooks"),
		customDir:  filepath.Join(root, "hooks.d"),
		outDir:     filepath.Join(root, "out"),
		platform:   mocks.NewMockPlatform(ctrl),
		confirm:    mocks.NewMockConfirmer(ctrl),
		space:      mocks.NewMockSpaceProbe(ctrl),
	}
	scriptsTmp := filepath.Join(root, "scripts")
	for _, dir := range []string{env.appsDir, env.outDir, scriptsTmp} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	// Restored settings trees are read-only.
	t.Cleanup(func() { _ = fsutil.RemoveTree(env.appsDir) })

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(root, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	env.journal = journal.New(db)

	runner := script.NewExecRunner(10*time.Second, "")
	svc, err := NewService(Deps{
		Repository:    archive.NewRepository(filepath.Join(env.backupRoot, "archives")),
		Hooks:         hook.NewAdapter(hook.NewRegistry(env.hooksDir, env.customDir, true), runner),
		Apps:          app.NewRunner(app.NewFSRegistry(env.appsDir), runner, env.appsDir, scriptsTmp),
		Platform:      env.platform,
		Confirmer:     env.confirm,
		Space:         env.space,
		Journal:       env.journal,
		BackupRoot:    env.backupRoot,
		WorkspacesDir: filepath.Join(env.backupRoot, "tmp"),
		LockPath:      filepath.Join(env.backupRoot, ".satchel.lock"),
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local) }
	env.svc = svc
	return env
}

func writeExec(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+body), 0o755))
}

// installConfHook registers a backup hook that saves a config file and the
// primary domain, and its paired restore routine.
func (e *testEnv) installConfHook(t *testing.T) {
	t.Helper()
	writeExec(t, filepath.Join(e.hooksDir, hook.PhaseBackup, "10-conf_test"), `mkdir -p "$1/conf" "$1/yunohost"
echo "setting=1" > "$1/conf/test.conf"
echo "example.org" > "$1/yunohost/current_host"
`)
	writeExec(t, e.restoreHookPath(), `cp "$1/conf/test.conf" "`+e.outDir+`/test.conf.restored"`+"\n")
}

func (e *testEnv) restoreHookPath() string {
	return filepath.Join(e.hooksDir, hook.PhaseRestore, "10-conf_test")
}

func (e *testEnv) installApp(t *testing.T, id string) {
	t.Helper()
	dir := filepath.Join(e.appsDir, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"),
		[]byte("id: "+id+"\nname: "+id+"\nversion: \"1.0\"\ndescription: "+id+" app\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yml"), []byte("id: "+id+"\n"), 0o600))
	writeExec(t, filepath.Join(dir, "scripts", "backup"), `echo "data of $2" > "$1/data.txt"`+"\n")
	writeExec(t, filepath.Join(dir, "scripts", "restore"), `cp "$1/data.txt" "`+e.outDir+`/$2.restored"`+"\n")
}

func (e *testEnv) uninstallApp(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, fsutil.RemoveTree(filepath.Join(e.appsDir, id)))
}

func (e *testEnv) workspaceDir(name string) string {
	return filepath.Join(e.backupRoot, "tmp", name)
}

// expectFreshSystem sets up a restore onto a system that is not installed.
func (e *testEnv) expectFreshSystem(regenerate bool) {
	e.space.EXPECT().FreeSpace(e.backupRoot).Return(uint64(1<<40), nil)
	e.platform.EXPECT().IsInstalled().Return(false)
	e.platform.EXPECT().PostInstall(gomock.Any(), "example.org").Return(nil)
	if regenerate {
		e.platform.EXPECT().Regenerate(gomock.Any()).Return(nil)
	}
}

func TestCreateRestoreRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installConfHook(t)
	env.installApp(t, "wiki")
	env.installApp(t, "blog")
	// blog has no restore script at backup time.
	require.NoError(t, os.Remove(filepath.Join(env.appsDir, "blog", "scripts", "restore")))

	created, err := env.svc.Create(ctx, CreateOptions{Description: "nightly"})
	require.NoError(t, err)
	assert.Equal(t, defaultName, created.Name)
	assert.Equal(t, "nightly", created.Description)
	assert.Contains(t, created.Hooks, "conf_test")
	assert.ElementsMatch(t, []string{"wiki", "blog"}, keys(created.Apps))
	assert.Positive(t, created.Size)
	assert.FileExists(t, created.Path)
	assert.NoDirExists(t, env.workspaceDir(defaultName))

	// The archive carries the same metadata as its sidecar.
	sidecar, err := env.svc.repo.LoadSidecar(defaultName)
	require.NoError(t, err)
	embedded, err := archive.Unpack(ctx, created.Path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, sidecar, embedded)
	assert.Equal(t, created.Info, sidecar)

	env.uninstallApp(t, "wiki")
	env.uninstallApp(t, "blog")
	env.expectFreshSystem(true)

	restored, err := env.svc.Restore(ctx, RestoreOptions{Name: defaultName})
	require.NoError(t, err)
	assert.Equal(t, []string{"wiki"}, restored.Apps)
	assert.Contains(t, restored.Hooks, "conf_test")
	assert.Equal(t, app.StatusSkipped, restored.AppReport["blog"].Status)

	assert.FileExists(t, filepath.Join(env.outDir, "test.conf.restored"))
	data, err := os.ReadFile(filepath.Join(env.outDir, "wiki.restored"))
	require.NoError(t, err)
	assert.Equal(t, "data of wiki\n", string(data))
	assert.DirExists(t, filepath.Join(env.appsDir, "wiki"))
	assert.NoDirExists(t, env.workspaceDir(defaultName))
}

func TestCreateRejectsBothDisabled(t *testing.T) {
	for _, opts := range []CreateOptions{
		{},
		{Name: "named"},
		{Hooks: []string{"conf_test"}, Apps: []string{"wiki"}},
		{OutputDirectory: "/srv/out", NoCompress: true},
		{Description: "x", OutputDirectory: "/srv/out"},
	} {
		env := newTestEnv(t)
		env.installConfHook(t)
		opts.IgnoreHooks, opts.IgnoreApps = true, true

		_, err := env.svc.Create(context.Background(), opts)
		require.ErrorIs(t, err, ErrBothDisabled)
		assert.Equal(t, KindConfig, KindOf(err))
		assert.Equal(t, ExitConfig, ExitCode(err))
		assert.NoDirExists(t, env.backupRoot, "no side effect before validation")
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	env.installConfHook(t)

	nonEmpty := filepath.Join(env.outDir, "nonempty")
	require.NoError(t, os.MkdirAll(nonEmpty, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nonEmpty, "keep"), nil, 0o644))

	tests := []struct {
		name    string
		opts    CreateOptions
		wantErr error
	}{
		{"no compress without output", CreateOptions{NoCompress: true}, ErrNoCompressNoOutput},
		{"no compress into non-empty dir", CreateOptions{NoCompress: true, OutputDirectory: nonEmpty}, ErrOutputNotEmpty},
		{"root", CreateOptions{OutputDirectory: "/"}, ErrForbiddenOutput},
		{"etc subdir", CreateOptions{OutputDirectory: "/etc/satchel"}, ErrForbiddenOutput},
		{"var", CreateOptions{OutputDirectory: "/var"}, ErrForbiddenOutput},
		{"inside archives dir", CreateOptions{OutputDirectory: filepath.Join(env.backupRoot, "archives", "x")}, ErrForbiddenOutput},
		{"name with separator", CreateOptions{Name: "a/b"}, ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Create(context.Background(), tt.opts)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, KindConfig, KindOf(err))
		})
	}

	names, err := env.svc.repo.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCreateNameCollision(t *testing.T) {
	env := newTestEnv(t)
	env.installConfHook(t)
	ctx := context.Background()

	_, err := env.svc.Create(ctx, CreateOptions{Name: "weekly"})
	require.NoError(t, err)

	_, err = env.svc.Create(ctx, CreateOptions{Name: "weekly"})
	require.ErrorIs(t, err, ErrArchiveExists)
	assert.Equal(t, KindConfig, KindOf(err))
}

func TestCreateNothingToBackupLeavesNoArchive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	writeExec(t, filepath.Join(env.hooksDir, hook.PhaseBackup, "10-broken"), "exit 1\n")
	statusFile := filepath.Join(env.outDir, "status")
	writeExec(t, filepath.Join(env.hooksDir, hook.PhasePostBackupCreate, "10-record"), `echo "$2" > `+statusFile+"\n")

	_, err := env.svc.Create(ctx, CreateOptions{Name: "empty"})
	require.ErrorIs(t, err, archive.ErrNothingToBackup)
	assert.Equal(t, KindNothingDone, KindOf(err))

	assert.False(t, env.svc.repo.Exists("empty"))
	assert.NoFileExists(t, env.svc.repo.SidecarPath("empty"))
	assert.NoDirExists(t, env.workspaceDir("empty"))

	status, err := os.ReadFile(statusFile)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(status))

	history, err := env.svc.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, journal.StatusFailed, history[0].Status)
}

func TestCreateSkipsHookPhaseWhenNoRequestedHookIsKnown(t *testing.T) {
	env := newTestEnv(t)
	env.installConfHook(t)
	env.installApp(t, "wiki")

	created, err := env.svc.Create(context.Background(), CreateOptions{Hooks: []string{"nope"}})
	require.NoError(t, err)
	assert.Empty(t, created.Hooks)
	assert.Contains(t, created.Apps, "wiki")
}

func TestCreateNoCompress(t *testing.T) {
	env := newTestEnv(t)
	env.installConfHook(t)
	env.installApp(t, "wiki")
	dest := filepath.Join(env.outDir, "plain")

	created, err := env.svc.Create(context.Background(), CreateOptions{Name: "plain", OutputDirectory: dest, NoCompress: true})
	require.NoError(t, err)
	assert.Equal(t, dest, created.Path)
	assert.Empty(t, created.Checksum)

	info, err := archive.LoadInfo(filepath.Join(dest, archive.InfoFile))
	require.NoError(t, err)
	assert.Contains(t, info.Apps, "wiki")
	assert.FileExists(t, filepath.Join(dest, "apps", "wiki", "backup", "data.txt"))
	assert.False(t, env.svc.repo.Exists("plain"))
}

func TestCreateIntoOutputDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.installConfHook(t)
	dest := filepath.Join(env.outDir, "archives")

	created, err := env.svc.Create(context.Background(), CreateOptions{Name: "copy", OutputDirectory: dest})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "copy.tar.gz"), created.Path)
	assert.FileExists(t, filepath.Join(dest, "copy.info.json"))
	assert.False(t, env.svc.repo.Exists("copy"))
}

func TestCreateFailsWhileLocked(t *testing.T) {
	env := newTestEnv(t)
	env.installConfHook(t)

	held, err := lock.Acquire(env.svc.lockPath, "restore")
	require.NoError(t, err)
	defer held.Release()

	_, err = env.svc.Create(context.Background(), CreateOptions{Name: "blocked"})
	require.ErrorIs(t, err, lock.ErrLocked)
	assert.Equal(t, KindResource, KindOf(err))
	assert.False(t, env.svc.repo.Exists("blocked"))
}

func TestRestoreRefusedOnInstalledSystem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installConfHook(t)
	env.installApp(t, "wiki")
	_, err := env.svc.Create(ctx, CreateOptions{})
	require.NoError(t, err)
	env.uninstallApp(t, "wiki")

	// A declined prompt and a prompt that cannot be shown both refuse.
	for _, promptErr := range []error{nil, errors.New("no terminal")} {
		env.space.EXPECT().FreeSpace(gomock.Any()).Return(uint64(1<<40), nil)
		env.platform.EXPECT().IsInstalled().Return(true)
		env.confirm.EXPECT().Confirm(gomock.Any(), gomock.Any()).Return(false, promptErr)

		_, err = env.svc.Restore(ctx, RestoreOptions{Name: defaultName})
		require.ErrorIs(t, err, ErrRestoreRefused)
		assert.Equal(t, KindRefused, KindOf(err))
		assert.Equal(t, ExitRefused, ExitCode(err))
	}

	assert.NoDirExists(t, filepath.Join(env.appsDir, "wiki"))
	assert.NoFileExists(t, filepath.Join(env.outDir, "test.conf.restored"))
	assert.NoDirExists(t, env.workspaceDir(defaultName))
}

func TestRestoreForceOrConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installConfHook(t)
	_, err := env.svc.Create(ctx, CreateOptions{})
	require.NoError(t, err)

	// Force never prompts; a strict mock fails on an unexpected Confirm.
	env.space.EXPECT().FreeSpace(gomock.Any()).Return(uint64(1<<40), nil)
	env.platform.EXPECT().IsInstalled().Return(true)
	res, err := env.svc.Restore(ctx, RestoreOptions{Name: defaultName, Force: true})
	require.NoError(t, err)
	assert.Contains(t, res.Hooks, "conf_test")
	assert.Empty(t, res.Apps)

	env.space.EXPECT().FreeSpace(gomock.Any()).Return(uint64(1<<40), nil)
	env.platform.EXPECT().IsInstalled().Return(true)
	env.confirm.EXPECT().Confirm(gomock.Any(), installedQuestion).Return(true, nil)
	_, err = env.svc.Restore(ctx, RestoreOptions{Name: defaultName})
	require.NoError(t, err)
}

func TestRestoreInsufficientSpace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installConfHook(t)
	_, err := env.svc.Create(ctx, CreateOptions{})
	require.NoError(t, err)

	env.space.EXPECT().FreeSpace(env.backupRoot).Return(uint64(1), nil)

	_, err = env.svc.Restore(ctx, RestoreOptions{Name: defaultName, Force: true})
	require.ErrorIs(t, err, ErrInsufficientSpace)
	assert.Equal(t, KindResource, KindOf(err))
	assert.NoDirExists(t, env.workspaceDir(defaultName))
	assert.NoFileExists(t, filepath.Join(env.outDir, "test.conf.restored"))
}

func TestRestoreFreeSpaceUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installConfHook(t)
	_, err := env.svc.Create(ctx, CreateOptions{})
	require.NoError(t, err)

	env.space.EXPECT().FreeSpace(env.backupRoot).Return(uint64(0), errors.New("statfs: input/output error"))

	_, err = env.svc.Restore(ctx, RestoreOptions{Name: defaultName, Force: true})
	require.ErrorIs(t, err, ErrSpaceUnknown)
	assert.NotErrorIs(t, err, ErrInsufficientSpace)
	assert.Equal(t, ExitResource, ExitCode(err))
	assert.NoDirExists(t, env.workspaceDir(defaultName))
}

func TestRestoreUnknownAndInvalidArchives(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Restore(ctx, RestoreOptions{Name: "missing"})
	require.ErrorIs(t, err, archive.ErrUnknownArchive)
	assert.Equal(t, ExitNotFound, ExitCode(err))

	archives := filepath.Join(env.backupRoot, "archives")
	require.NoError(t, os.MkdirAll(archives, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(archives, "orphan.tar.gz"), []byte("x"), 0o640))

	_, err = env.svc.Restore(ctx, RestoreOptions{Name: "orphan"})
	require.ErrorIs(t, err, archive.ErrInvalidArchive)
	assert.Equal(t, KindIntegrity, KindOf(err))

	_, err = env.svc.Restore(ctx, RestoreOptions{Name: "orphan", IgnoreHooks: true, IgnoreApps: true})
	require.ErrorIs(t, err, ErrBothDisabled)
}

func TestRestoreIsIdempotentForInstalledApps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installConfHook(t)
	env.installApp(t, "wiki")
	_, err := env.svc.Create(ctx, CreateOptions{Name: "2024-01-01"})
	require.NoError(t, err)

	// wiki is still installed: its restore is refused, the hooks still run.
	env.space.EXPECT().FreeSpace(gomock.Any()).Return(uint64(1<<40), nil).Times(2)
	env.platform.EXPECT().IsInstalled().Return(true).Times(2)

	res, err := env.svc.Restore(ctx, RestoreOptions{Name: "2024-01-01", Apps: []string{"wiki"}, Force: true})
	require.NoError(t, err)
	assert.Empty(t, res.Apps)
	assert.Equal(t, app.StatusFailed, res.AppReport["wiki"].Status)
	assert.NoFileExists(t, filepath.Join(env.outDir, "wiki.restored"))

	_, err = env.svc.Restore(ctx, RestoreOptions{Name: "2024-01-01", Apps: []string{"wiki"}, IgnoreHooks: true, Force: true})
	require.ErrorIs(t, err, ErrNothingRestored)
	assert.Equal(t, KindNothingDone, KindOf(err))
}

func TestRestoreFallsBackToBundledHook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installConfHook(t)
	_, err := env.svc.Create(ctx, CreateOptions{})
	require.NoError(t, err)

	// The target system lacks the restore routine.
	require.NoError(t, os.Remove(env.restoreHookPath()))
	env.expectFreshSystem(false)

	res, err := env.svc.Restore(ctx, RestoreOptions{Name: defaultName, Hooks: []string{"conf_test", "not_archived"}})
	require.NoError(t, err)
	require.Contains(t, res.Hooks, "conf_test")
	assert.Equal(t, hook.SourceArchive, res.Hooks["conf_test"].Source)
	assert.FileExists(t, filepath.Join(env.customDir, hook.PhaseRestore, "10-conf_test"))
	assert.FileExists(t, filepath.Join(env.outDir, "test.conf.restored"))
}

func TestRestoreWithoutCurrentHostIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installApp(t, "wiki")
	_, err := env.svc.Create(ctx, CreateOptions{IgnoreHooks: true})
	require.NoError(t, err)
	env.uninstallApp(t, "wiki")

	env.space.EXPECT().FreeSpace(gomock.Any()).Return(uint64(1<<40), nil)
	env.platform.EXPECT().IsInstalled().Return(false)

	_, err = env.svc.Restore(ctx, RestoreOptions{Name: defaultName})
	require.ErrorIs(t, err, archive.ErrInvalidArchive)
	assert.NoDirExists(t, filepath.Join(env.appsDir, "wiki"))
}

func TestDeleteThenInfo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installConfHook(t)
	calls := filepath.Join(env.outDir, "calls")
	writeExec(t, filepath.Join(env.hooksDir, hook.PhasePreBackupDelete, "10-pre"), `echo "pre $1" >> `+calls+"\n")
	writeExec(t, filepath.Join(env.hooksDir, hook.PhasePostBackupDelete, "10-post"), `echo "post $1" >> `+calls+"\n")

	_, err := env.svc.Create(ctx, CreateOptions{Name: "old"})
	require.NoError(t, err)
	_, err = env.svc.Info("old", true, true)
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, "old"))

	_, err = env.svc.Info("old", false, false)
	require.ErrorIs(t, err, archive.ErrUnknownArchive)
	assert.Equal(t, KindNotFound, KindOf(err))

	data, err := os.ReadFile(calls)
	require.NoError(t, err)
	assert.Equal(t, "pre old\npost old\n", string(data))

	_, err = env.journal.ChecksumFor(ctx, "old")
	assert.ErrorIs(t, err, journal.ErrNoChecksum)

	err = env.svc.Delete(ctx, "old")
	assert.Equal(t, KindNotFound, KindOf(err))

	history, err := env.svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	kinds := []journal.Kind{history[0].Kind, history[1].Kind, history[2].Kind}
	assert.ElementsMatch(t, []journal.Kind{journal.KindCreate, journal.KindDelete, journal.KindDelete}, kinds)
}

func TestListAndVerify(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.installConfHook(t)

	for _, name := range []string{"b", "a"} {
		_, err := env.svc.Create(ctx, CreateOptions{Name: name})
		require.NoError(t, err)
	}

	list, err := env.svc.List(true, true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.NotEmpty(t, list[0].HumanSize)

	res, err := env.svc.Verify(ctx, "a")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "blake3", res.Algorithm)

	f, err := os.OpenFile(env.svc.repo.Path("a"), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("tampered"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err = env.svc.Verify(ctx, "a")
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.False(t, res.Valid)
	assert.Equal(t, ExitIntegrity, ExitCode(err))
}

func TestCleanupRemovesStaleWorkspaces(t *testing.T) {
	env := newTestEnv(t)
	stale := env.workspaceDir("abandoned")
	require.NoError(t, os.MkdirAll(stale, 0o750))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	report, err := env.svc.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeletedDirs)
	assert.NoDirExists(t, stale)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, ExitSuccess},
		{ErrBothDisabled, ExitConfig},
		{archive.ErrArchiveOpen, ExitResource},
		{ErrInsufficientSpace, ExitResource},
		{ErrSpaceUnknown, ExitResource},
		{archive.ErrNothingToBackup, ExitNothingDone},
		{archive.ErrInvalidArchive, ExitIntegrity},
		{archive.ErrUnknownArchive, ExitNotFound},
		{ErrRestoreRefused, ExitRefused},
		{errors.New("boom"), ExitGeneric},
		{&Error{Kind: KindRefused, Op: "restore", Err: errors.New("x")}, ExitRefused},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCode(tt.err), "error %v", tt.err)
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
