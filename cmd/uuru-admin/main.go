// Command uuru-admin manages uURU user accounts directly in the primary
// database. The server does not need to be running.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
)

const usage = `usage: uuru-admin [-data-dir DIR] <command> [flags]

commands:
  create-user   -username NAME -password PASS [-admin]
  set-password  -username NAME -password PASS
  delete-user   -username NAME
  list-users
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("uuru-admin", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	dataDir := global.String("data-dir", envOr("UURU_DATA_DIR", "./data"), "data directory of the primary database")
	if err := global.Parse(args); err != nil {
		return errUsage
	}
	if global.NArg() == 0 {
		return errUsage
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	username := fs.String("username", "", "account name")
	password := fs.String("password", os.Getenv("UURU_PASSWORD"), "account password (or UURU_PASSWORD)")
	admin := fs.Bool("admin", false, "grant the admin role")
	if err := fs.Parse(rest); err != nil {
		return errUsage
	}

	db, err := database.Open(*dataDir)
	if err != nil {
		return err
	}
	defer db.Close()
	users := database.NewUserRepository(db)

	switch cmd {
	case "create-user":
		if *username == "" || *password == "" {
			return errUsage
		}
		existing, err := users.GetByUsername(ctx, *username)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("user %q already exists", *username)
		}
		hash, err := database.HashPassword(*password)
		if err != nil {
			return err
		}
		role := models.RoleUser
		if *admin {
			role = models.RoleAdmin
		}
		u := &models.User{Username: *username, PasswordHash: hash, Role: role}
		if err := users.Create(ctx, u); err != nil {
			return err
		}
		fmt.Fprintf(out, "created %s user %q (id %d)\n", role, u.Username, u.ID)

	case "set-password":
		if *username == "" || *password == "" {
			return errUsage
		}
		u, err := lookup(ctx, users, *username)
		if err != nil {
			return err
		}
		hash, err := database.HashPassword(*password)
		if err != nil {
			return err
		}
		if err := users.UpdatePassword(ctx, u.ID, hash); err != nil {
			return err
		}
		fmt.Fprintf(out, "password of %q updated\n", u.Username)

	case "delete-user":
		if *username == "" {
			return errUsage
		}
		u, err := lookup(ctx, users, *username)
		if err != nil {
			return err
		}
		if err := users.Delete(ctx, u.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %q\n", u.Username)

	case "list-users":
		list, err := users.List(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\tCREATED")
		for _, u := range list {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Role, u.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()

	default:
		return errUsage
	}
	return nil
}

func lookup(ctx context.Context, users database.UserRepository, name string) (*models.User, error) {
	u, err := users.GetByUsername(ctx, name)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %q not found", name)
	}
	return u, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
