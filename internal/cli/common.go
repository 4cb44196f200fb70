package cli

import (
	"fmt"

	"github.com/nace/skrinja/internal/audit"
	"github.com/nace/skrinja/internal/config"
	"github.com/nace/skrinja/internal/container"
	"github.com/nace/skrinja/internal/keys"
	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// GlobalContext holds shared resources for all commands
type GlobalContext struct {
	Executor    *system.Executor
	Logger      *ui.Logger
	Config      *config.Config
	Keys        *keys.Store
	LUKSManager *container.LUKSManager
	MountMgr    *container.MountManager
	Discovery   *container.Discovery
	Lifecycle   *container.Lifecycle
	Audit       *audit.Logger
}

// NewGlobalContext creates a new global context
func NewGlobalContext(cfg *config.Config, verbose, quiet, noColor, debug bool) *GlobalContext {
	ctx := &GlobalContext{}
	ctx.Rebuild(cfg, verbose, quiet, noColor, debug)
	return ctx
}

// Rebuild recreates all components, e.g. after global flags are parsed.
func (ctx *GlobalContext) Rebuild(cfg *config.Config, verbose, quiet, noColor, debug bool) {
	ctx.Config = cfg
	ctx.Executor = system.NewExecutor(debug)
	ctx.Logger = ui.NewLogger(verbose, quiet, noColor)
	ctx.Keys = keys.NewStore(cfg.KeysRoot, cfg.RSABits)
	ctx.LUKSManager = container.NewLUKSManager(ctx.Executor)
	ctx.MountMgr = container.NewMountManager(ctx.Executor, cfg.MountRoot, cfg.ContainerSuffix)
	ctx.Discovery = container.NewDiscovery(ctx.Executor, ctx.LUKSManager, ctx.MountMgr)

	ctx.Lifecycle = container.NewLifecycle(ctx.Executor, ctx.LUKSManager, ctx.MountMgr, ctx.Keys, cfg)
	ctx.Lifecycle.Log = ctx.Logger
	ctx.Lifecycle.Confirm = ui.TerminalConfirmer{}
	ctx.Lifecycle.PromptKeyPath = func(name string) string {
		return ui.PromptString(fmt.Sprintf("Key file for container %s not found, enter alternate path", name))
	}
	ctx.Lifecycle.Audit = ctx.Audit
}

// OpenAudit opens the append-only operation log. State-changing
// commands call this after the root check, since the log lives under a
// root-owned directory.
func (ctx *GlobalContext) OpenAudit() error {
	if ctx.Audit != nil {
		return nil
	}
	a, err := audit.New(ctx.Config.AuditLog)
	if err != nil {
		return err
	}
	ctx.Audit = a
	ctx.Lifecycle.Audit = a
	return nil
}

// CheckDependencies checks for required system commands
func (ctx *GlobalContext) CheckDependencies() error {
	deps := []string{
		"cryptsetup",
		"dmsetup",
		"losetup",
		"mount",
		"umount",
		"fuser",
		"fallocate",
		"df",
		"chown",
		"mkfs." + ctx.Config.Filesystem,
	}
	return ctx.Executor.CheckDependencies(deps)
}

// preflight bundles the checks every state-changing command performs.
func (ctx *GlobalContext) preflight() error {
	if err := system.RequireRoot(); err != nil {
		return err
	}
	if err := ctx.CheckDependencies(); err != nil {
		return err
	}
	return ctx.OpenAudit()
}
