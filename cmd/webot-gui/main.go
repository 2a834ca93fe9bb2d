package main

import (
	"context"
	"log"

	"fyne.io/fyne/v2/app"

	"github.com/linyvhuo/webot/internal/config"
	"github.com/linyvhuo/webot/internal/coordinator"
	"github.com/linyvhuo/webot/internal/gui"
)

const settingsPath = "Settings.ini"

func main() {
	// Create Fyne application
	myApp := app.NewWithID("com.linyvhuo.webot")
	myApp.Settings().SetTheme(&gui.PanelTheme{})

	mainWindow := myApp.NewWindow("WeBot Control Panel")
	mainWindow.Resize(gui.DefaultWindowSize)

	// Load configuration
	cfg, err := config.LoadFromINI(settingsPath)
	if err != nil {
		log.Printf("Warning: Failed to load config: %v", err)
		cfg = config.NewDefaultConfig()
	}
	if err := config.ApplyEnvFile(cfg, ".env"); err != nil {
		log.Printf("Warning: Failed to apply environment overrides: %v", err)
	}

	rt, err := coordinator.New(coordinator.Options{Config: cfg, ConfigPath: settingsPath})
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	opts := gui.Options{
		Engine:     rt.Orchestrator,
		Config:     cfg,
		ConfigPath: settingsPath,
	}
	if rt.History != nil {
		opts.History = rt.History
	}
	controller := gui.NewController(myApp, mainWindow, opts)
	rt.Subscribe(controller.Bridge())
	rt.Start(context.Background())

	// Build UI with horizontal tabs
	mainWindow.SetContent(controller.BuildUI())
	mainWindow.SetMaster()
	mainWindow.ShowAndRun()

	// Cleanup on exit
	controller.Shutdown()
	if err := rt.Close(); err != nil {
		log.Printf("Warning: Failed to shut down cleanly: %v", err)
	}
}
