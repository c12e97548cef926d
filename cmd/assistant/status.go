package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dkotama/firefly-telegram-assistant/pkg/client"
	"github.com/dkotama/firefly-telegram-assistant/pkg/config"
	"github.com/dkotama/firefly-telegram-assistant/pkg/firefly"
)

const statusTimeout = 10 * time.Second

// runStatus checks the configuration and connectivity status.
func runStatus(configPath string) error {
	fmt.Println("=== Assistant Status ===")
	fmt.Println()

	allGood := true

	cfg := checkConfig(configPath, &allGood)
	if cfg != nil {
		checkTransport(cfg, &allGood)
		checkProviders(cfg)
		if cfg.UsesFirefly() {
			checkFirefly(cfg, &allGood)
		}
		checkStore(cfg, &allGood)
		if cfg.WriterPlugin == "sheets" {
			checkGoogle(cfg, &allGood)
		}
	}

	printFinalStatus(allGood)

	return nil
}

func checkConfig(configPath string, allGood *bool) *config.Config {
	source := "environment"
	if configPath != "" {
		source = configPath
	}
	fmt.Printf("Config (%s): ", source)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Println("✗ Invalid")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("  - %s\n", line)
		}
		*allGood = false
		return nil
	}
	fmt.Println("✓ Loaded")
	fmt.Printf("  Reader: %s\n", cfg.ReaderPlugin)
	fmt.Printf("  Writer: %s\n", cfg.WriterPlugin)
	return &cfg
}

func checkTransport(cfg *config.Config, allGood *bool) {
	fmt.Println()
	fmt.Println("Transport:")

	if cfg.TelegramToken != "" {
		fmt.Println("  Telegram: ✓ Token set")
	} else {
		fmt.Println("  Telegram: - Disabled")
	}
	if cfg.HTTP.Enabled() {
		fmt.Printf("  HTTP API: ✓ %s\n", cfg.HTTP.Addr)
	} else {
		fmt.Println("  HTTP API: - Disabled")
	}
	if err := cfg.ValidateTransport(); err != nil {
		fmt.Printf("  ✗ %v\n", err)
		*allGood = false
	}
	if len(cfg.AuthorizedUsers) == 0 {
		fmt.Println("  Authorized users: everyone")
	} else {
		fmt.Printf("  Authorized users: %s\n", strings.Join(cfg.AuthorizedUsers, ", "))
	}
}

func checkProviders(cfg *config.Config) {
	fmt.Println()
	fmt.Println("Providers:")
	fmt.Printf("  Embedding: %s (%d dimensions)\n", cfg.Embedding.Provider, cfg.Embedding.Dimensions)
	if cfg.LLM.Provider == "none" {
		fmt.Println("  Language model: none (suggestions use the nearest match)")
	} else {
		fmt.Printf("  Language model: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}
}

func checkFirefly(cfg *config.Config, allGood *bool) {
	fmt.Println()
	fmt.Println("Firefly III:")

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	fmt.Print("  API: ")
	about, err := testFireflyAPI(ctx, cfg)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Printf("✓ Connected (version %s, API %s)\n", about.Version, about.APIVersion)
}

func testFireflyAPI(ctx context.Context, cfg *config.Config) (*firefly.About, error) {
	hc, err := client.NewBearer(ctx, cfg.Firefly.APIToken, statusTimeout)
	if err != nil {
		return nil, err
	}
	ff, err := firefly.NewWithHTTPClient(hc, firefly.Config{
		BaseURL:  cfg.Firefly.APIURL,
		Attempts: 1,
	}, slog.New(slog.DiscardHandler))
	if err != nil {
		return nil, err
	}
	return ff.About(ctx)
}

func checkStore(cfg *config.Config, allGood *bool) {
	fmt.Println()
	fmt.Printf("Store (%s): ", cfg.Store.Backend)

	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	st, err := openStore(ctx, *cfg, cfg.Embedding.Dimensions, slog.New(slog.DiscardHandler))
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	defer st.Close()

	n, err := st.Count(ctx)
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		*allGood = false
		return
	}
	fmt.Printf("✓ %d records\n", n)
	if n == 0 {
		fmt.Println("  Run 'assistant sync' to import your transaction history.")
	}
}

func checkGoogle(cfg *config.Config, allGood *bool) {
	fmt.Println()
	fmt.Println("Google Sheets:")

	fmt.Printf("  Client secret (%s): ", config.ClientSecretFile)
	if _, err := os.Stat(config.ClientSecretFile); os.IsNotExist(err) {
		fmt.Println("✗ Not found")
		*allGood = false
	} else {
		fmt.Println("✓ Found")
	}

	fmt.Printf("  Token (%s): ", cfg.GoogleTokenFile)
	token, err := checkToken(cfg.GoogleTokenFile)
	switch {
	case err != nil:
		fmt.Printf("✗ %v\n", err)
		*allGood = false
	case token.Valid():
		fmt.Printf("✓ Valid (expires %s)\n", token.Expiry.Format(time.RFC3339))
	case token.RefreshToken != "":
		fmt.Println("✓ Expired, will refresh")
	default:
		fmt.Println("✗ Expired and no refresh token")
		*allGood = false
	}
}

func checkToken(tokenPath string) (*oauth2.Token, error) {
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("not found (the first 'assistant run' opens the consent page)")
		}
		return nil, err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid format")
	}

	return &token, nil
}

func printFinalStatus(allGood bool) {
	fmt.Println()
	if allGood {
		fmt.Println("Status: ✓ Ready to run")
		fmt.Println()
		fmt.Println("Run 'assistant run' to start the assistant.")
	} else {
		fmt.Println("Status: ✗ Configuration issues detected")
		fmt.Println()
		fmt.Println("Fix the issues above, then run 'assistant status' again.")
	}
}
