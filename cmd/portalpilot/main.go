package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/portalpilot/portalpilot/internal/creds"
	"github.com/portalpilot/portalpilot/internal/probe"
	"github.com/portalpilot/portalpilot/internal/shutdown"
	"github.com/portalpilot/portalpilot/internal/state"
	"github.com/portalpilot/portalpilot/pkg/engine"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	statePath  string
	verbose    bool
	debug      bool

	// Run flags
	listenAddr string
	probeURL   string
	headless   bool
	controlURL string

	// Credential flags
	loginURL    string
	username    string
	password    string
	userField   string
	passField   string
	extraFields map[string]string

	// Login flags
	loginTimeout int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portalpilot",
		Short: "PortalPilot - Captive Portal Auto-Login",
		Long: `PortalPilot - Automatic captive portal detection and login.

Watches internet connectivity, detects intercepting captive portals, and
submits configured credentials through a headless browser so the network
keeps working without manual logins.`,
		Version: version,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the auto-login daemon",
		Long:  "Run the background daemon that watches connectivity and logs in automatically.",
		RunE:  runDaemon,
	}

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Force a login attempt now",
		Long:  "Run a single forced login attempt with the stored credentials and exit.",
		RunE:  runLogin,
	}

	setConfigCmd := &cobra.Command{
		Use:   "set-config",
		Short: "Store portal credentials",
		Long:  "Store the portal login URL and credentials used for automatic login.",
		RunE:  runSetConfig,
	}

	clearConfigCmd := &cobra.Command{
		Use:   "clear-config",
		Short: "Remove stored credentials",
		RunE:  runClearConfig,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and configuration status",
		RunE:  runStatus,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", defaultStatePath(), "Credential database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")

	// Run flags
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "Serve the WebSocket notification feed on this address")
	runCmd.Flags().StringVar(&probeURL, "probe-url", "", "Connectivity check URL")
	runCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser headless")
	runCmd.Flags().StringVar(&controlURL, "control-url", "", "Attach to a running browser instead of launching one")

	// Login flags
	loginCmd.Flags().IntVarP(&loginTimeout, "timeout", "t", 90, "Attempt timeout in seconds")
	loginCmd.Flags().StringVar(&probeURL, "probe-url", "", "Connectivity check URL")
	loginCmd.Flags().BoolVar(&headless, "headless", true, "Run the browser headless")
	loginCmd.Flags().StringVar(&controlURL, "control-url", "", "Attach to a running browser instead of launching one")

	// Credential flags
	setConfigCmd.Flags().StringVar(&loginURL, "login-url", "", "Portal login page URL")
	setConfigCmd.Flags().StringVarP(&username, "username", "u", "", "Portal username")
	setConfigCmd.Flags().StringVarP(&password, "password", "p", "", "Portal password")
	setConfigCmd.Flags().StringVar(&userField, "user-field", "", "Explicit username input name or id")
	setConfigCmd.Flags().StringVar(&passField, "pass-field", "", "Explicit password input name or id")
	setConfigCmd.Flags().StringToStringVar(&extraFields, "extra", nil, "Extra hidden fields as key=value")
	setConfigCmd.MarkFlagRequired("login-url")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(setConfigCmd)
	rootCmd.AddCommand(clearConfigCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".portalpilot.db"
	}
	return filepath.Join(dir, "portalpilot", "credentials.db")
}

func buildConfig() (*engine.Config, error) {
	var config *engine.Config
	if configFile != "" {
		loaded, err := engine.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = loaded
	} else {
		config = engine.DefaultConfig()
	}

	config.StatePath = statePath
	config.Verbose = verbose
	config.Debug = debug

	if probeURL != "" {
		config.Probe.URL = probeURL
	}
	if listenAddr != "" {
		config.Notify.ListenAddr = listenAddr
	}
	config.Browser.Headless = headless
	if controlURL != "" {
		config.Browser.ControlURL = controlURL
	}

	return config, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	config, err := buildConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.WithConfig(config))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	handler := shutdown.NewDefault()
	handler.RegisterFunc("engine", func() {
		_ = eng.Close()
	})

	fmt.Printf("PortalPilot v%s running (state: %s)\n", version, statePath)

	done := make(chan error, 1)
	go func() {
		done <- eng.Run(handler.Context())
	}()

	handler.Wait()
	return <-done
}

func runLogin(cmd *cobra.Command, args []string) error {
	config, err := buildConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.WithConfig(config))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(loginTimeout)*time.Second)
	defer cancel()

	if err := eng.TriggerLoginNow(ctx); err != nil {
		return fmt.Errorf("login attempt failed: %w", err)
	}

	fmt.Println("Internet access is available.")
	return nil
}

func runSetConfig(cmd *cobra.Command, args []string) error {
	c := creds.Credentials{
		LoginURL:    loginURL,
		Username:    username,
		Password:    password,
		UserField:   userField,
		PassField:   passField,
		ExtraFields: extraFields,
	}
	if err := c.Validate(); err != nil {
		return err
	}

	store, err := state.NewBoltStore(statePath)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer store.Close()

	if err := store.Save(c); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	fmt.Printf("Credentials stored for %s\n", loginURL)
	return nil
}

func runClearConfig(cmd *cobra.Command, args []string) error {
	store, err := state.NewBoltStore(statePath)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer store.Close()

	if err := store.Clear(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}

	fmt.Println("Credentials cleared.")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prober := probe.New(probe.DefaultConfig(), nil)
	status := prober.Check(ctx)

	var loginTarget string
	if store, err := state.NewBoltStore(statePath); err == nil {
		if c, err := store.Load(); err == nil && c != nil {
			loginTarget = c.LoginURL
		}
		store.Close()
	}

	out := map[string]interface{}{
		"internet_up": status.Up,
		"status_code": status.StatusCode,
	}
	if status.PortalURL != "" {
		out["portal_url"] = status.PortalURL
	}
	if loginTarget != "" {
		out["login_url"] = loginTarget
		out["credentials_set"] = true
	} else {
		out["credentials_set"] = false
	}

	data, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(data))
	return nil
}
