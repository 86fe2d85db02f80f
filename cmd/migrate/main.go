package main

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/trailcrew/TrailCrewBack/internal/logging"
)

func main() {
	logging.Init(logging.Config{Level: os.Getenv("LOG_LEVEL"), Format: "console"})
	if err := godotenv.Load(); err != nil {
		logging.Debug().Msg("no .env file found")
	}

	dbUrl := os.Getenv("DB_URL")
	if dbUrl == "" {
		logging.Fatal().Msg("DB_URL environment variable is required")
	}

	migrationsPath, err := findMigrations()
	if err != nil {
		logging.Fatal().Err(err).Msg("locate migrations")
	}

	m, err := migrate.New("file://"+migrationsPath, dbUrl)
	if err != nil {
		logging.Fatal().Err(err).Msg("open migrator")
	}
	defer m.Close()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps":
		if len(os.Args) < 3 {
			logging.Fatal().Msg("usage: migrate steps <n>")
		}
		n, convErr := strconv.Atoi(os.Args[2])
		if convErr != nil {
			logging.Fatal().Err(convErr).Msg("invalid step count")
		}
		err = m.Steps(n)
	case "version":
		version, dirty, versionErr := m.Version()
		if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
			logging.Fatal().Err(versionErr).Msg("read version")
		}
		logging.Info().Uint("version", version).Bool("dirty", dirty).Msg("migration version")
		return
	default:
		logging.Fatal().Str("command", cmd).Msg("unknown command, expected up, down, steps or version")
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logging.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
	logging.Info().Str("command", cmd).Msg("migration successful")
}

func findMigrations() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	candidates := []string{}
	current := cwd
	for i := 0; i < 6; i++ {
		candidates = append(candidates, filepath.Join(current, "migrations"))
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append(candidates,
			filepath.Join(exeDir, "migrations"),
			filepath.Join(exeDir, "..", "migrations"),
			filepath.Join(exeDir, "..", "..", "migrations"),
		)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return filepath.Abs(candidate)
		}
	}
	return "", errors.New("migrations directory not found")
}
