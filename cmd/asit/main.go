package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/app"
	"github.com/gmsas95/asit/internal/cli"
	"github.com/gmsas95/asit/internal/config"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

func main() {
	flag.Usage = cli.PrintExtendedHelp
	flag.Parse()
	cli.Version = version

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintExtendedHelp()
		return
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help", "--help", "-h":
		cli.PrintExtendedHelp()
		return
	case "version", "--version", "-v":
		cli.PrintVersion()
		return
	case "config":
		cli.HandleConfigCommand(rest, *configPath, *dataDir)
		return
	}

	application := initApp()
	defer application.Logger.Sync()

	switch cmd {
	case "serve", "server":
		if err := application.RunServer(); err != nil {
			os.Exit(1)
		}
		return
	}
	defer application.Close()

	switch cmd {
	case "status":
		cli.HandleStatusCommand(application)
	case "today":
		cli.HandleTodayCommand(rest, application)
	case "confirm":
		cli.HandleConfirmCommand(rest, application)
	case "courses", "course":
		cli.HandleCoursesCommand(rest, application)
	case "reminders", "reminder":
		cli.HandleRemindersCommand(rest, application)
	case "action":
		cli.HandleActionCommand(rest, application)
	case "notifications":
		cli.HandleNotificationsCommand(rest, application)
	case "sync":
		cli.HandleSyncCommand(application)
	case "export":
		cli.HandleExportCommand(rest, application)
	case "import":
		cli.HandleImportCommand(rest, application)
	case "catalog":
		cli.HandleCatalogCommand(rest, application)
	case "token":
		cli.HandleTokenCommand(application)
	default:
		fmt.Printf("Unknown command: %s\n\n", cmd)
		cli.PrintExtendedHelp()
		application.Close()
		os.Exit(1)
	}
}

func initApp() *app.App {
	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Debug("Starting Asit",
		zap.String("version", version),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	application, err := app.New(cfg, logger, version)
	if err != nil {
		logger.Fatal("Failed to initialize app", zap.Error(err))
	}
	return application
}
