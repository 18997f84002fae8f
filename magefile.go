//go:build mage

package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"

	"github.com/joho/godotenv"
)

const binary = "bin/fitalerts"

// Build compiles the fitalerts binary into bin/.
func Build() error {
	return run("go", "build", "-o", binary, "./cmd/fitalerts")
}

// Test runs the unit tests with the race detector.
func Test() error {
	return run("go", "test", "-race", "./...")
}

// MigrateUp runs all pending migrations
func MigrateUp() error {
	return fitalerts("migrate", "up")
}

// MigrateDown rolls back the last migration
func MigrateDown() error {
	return fitalerts("migrate", "down")
}

// MigrateVersion prints the current schema version
func MigrateVersion() error {
	return fitalerts("migrate", "version")
}

// MigrateCreate creates a new pair of migration files
func MigrateCreate(name string) error {
	if name == "" {
		return fmt.Errorf("migration name is required")
	}
	return run("migrate", "create", "-ext", "sql", "-dir", "internal/migrations/sql", "-seq", name)
}

// Admin creates an admin account: mage admin <email> <name> <password>
func Admin(email, name, password string) error {
	return fitalerts("user", "create", "--role", "admin", "--email", email, "--name", name, "--password", password)
}

// Serve runs the API with an in-process worker.
func Serve() error {
	return fitalerts("serve")
}

func fitalerts(args ...string) error {
	loadEnv()
	return run("go", append([]string{"run", "./cmd/fitalerts"}, args...)...)
}

func loadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	return cmd.Run()
}
