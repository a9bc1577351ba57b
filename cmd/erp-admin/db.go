package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"freelance-erp/internal/auth"
	"freelance-erp/internal/cli"
	"freelance-erp/internal/core"
	"freelance-erp/internal/services"
	"freelance-erp/internal/storage"
	"freelance-erp/internal/worker"
)

// openDB opens the local SQLite database named by SQLITE_DB_PATH.
func openDB(env *environment) *storage.SQLiteRepository {
	return cli.InitSQLite(env.logger, env.cfg.SQLiteDBPath)
}

func requireTenant(tenant string) error {
	if tenant == "" {
		return errors.New("-tenant is required (an API key, or user_{id} for a web user)")
	}
	return nil
}

func runExport(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant key")
	out := fs.String("o", "", "output file, stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireTenant(*tenant); err != nil {
		return err
	}

	repo := openDB(env)
	defer repo.Close()
	envelope, err := services.NewDocumentService(repo, nil, nil).Export(ctx, *tenant)
	if err != nil {
		return err
	}
	return writeJSON(*out, envelope)
}

func runImport(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "tenant key")
	mode := fs.String("mode", string(core.ImportReplace), "replace or merge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireTenant(*tenant); err != nil {
		return err
	}
	m := core.ImportMode(*mode)
	if !m.Valid() {
		return fmt.Errorf("invalid mode %q", *mode)
	}
	path, err := fileArg(fs)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	envelope, err := core.ParseEnvelope(raw)
	if err != nil {
		return err
	}

	repo := openDB(env)
	defer repo.Close()
	updatedAt, err := services.NewDocumentService(repo, nil, nil).Import(ctx, *tenant, envelope, m)
	if err != nil {
		return err
	}
	fmt.Printf("imported %s (%s) at %s\n", path, m, updatedAt.UTC().Format(storage.TimestampLayout))
	return nil
}

func runCreateUser(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	username := fs.String("username", "", "login name")
	password := fs.String("password", "", "initial password")
	email := fs.String("email", "", "contact email")
	role := fs.String("role", "user", "user or admin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	repo := openDB(env)
	defer repo.Close()
	svc := auth.NewService(repo, auth.NewTokens(env.cfg.SessionSecret, env.cfg.SessionTTL), env.logger)
	user, err := svc.CreateUser(ctx, *username, *password, *email, *role)
	if err != nil {
		return err
	}
	fmt.Printf("created user %s (id %d, tenant %s)\n", user.Username, user.ID, auth.TenantForUser(user.ID))
	return nil
}

func runBackup(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	dir := fs.String("dir", env.cfg.BackupDir, "backup directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	repo := openDB(env)
	defer repo.Close()
	b := worker.NewBackup(repo, services.NewDocumentService(repo, nil, nil), *dir, env.logger)
	n, err := b.Run(ctx)
	fmt.Printf("%d tenant(s) backed up to %s\n", n, *dir)
	return err
}
