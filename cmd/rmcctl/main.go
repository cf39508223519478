package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"rmcerp.io/internal/auth"
	"rmcerp.io/internal/store/db"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "hash-password":
		err = runHashPassword(os.Args[2:])
	case "create-user":
		err = runCreateUser(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// runHashPassword prints the bcrypt hash of the argument, or of the first
// line of stdin when no argument is given.
func runHashPassword(args []string) error {
	password := strings.Join(args, " ")
	if password == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	var (
		dsn      = fs.String("dsn", os.Getenv("RMCERP_PG_DSN"), "PostgreSQL DSN")
		username = fs.String("username", "", "login name")
		password = fs.String("password", "", "initial password")
		email    = fs.String("email", "", "email address")
		fullName = fs.String("full-name", "", "display name")
		role     = fs.String("role", "user", "role")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsn == "" || *username == "" || *password == "" {
		fs.Usage()
		return fmt.Errorf("dsn, username and password are required")
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		return err
	}

	gw, err := db.Open(*dsn, db.PoolOptions{MaxOpenConns: 1})
	if err != nil {
		return err
	}
	defer gw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	res, err := gw.Execute(ctx, db.Query{
		SQL: "INSERT INTO users (username, password_hash, email, full_name, role, created_at) " +
			"VALUES ($1, $2, $3, $4, $5, now()) RETURNING id",
		Args:      []any{*username, hash, *email, *fullName, *role},
		Returning: true,
	})
	if err != nil {
		return err
	}
	fmt.Printf("created user %s with id %d\n", *username, res.LastInsertID)
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s hash-password [password] | create-user -username u -password p [-role r]\n", os.Args[0])
	os.Exit(1)
}
