package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
}

// NewWizard creates a new configuration wizard
func NewWizard() *Wizard {
	return &Wizard{
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Linkcap Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	validator := NewValidator()

	// Browser provider credentials
	fmt.Println("Browserbase credentials (required):")
	fmt.Println()

	for {
		fmt.Print("Browserbase API Key: ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if err := validator.ValidateAPIKey(key, "browserbase"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Browserbase.APIKey = key
		break
	}

	for {
		fmt.Print("Browserbase Project ID: ")
		projectID, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if projectID == "" {
			fmt.Println("Error: Project ID is required")
			continue
		}

		cfg.Browserbase.ProjectID = projectID
		break
	}

	fmt.Println()

	// Webhook delivery
	fmt.Println("Webhook delivery:")
	fmt.Println()

	for {
		fmt.Print("Workflow URL (captured payloads are POSTed here): ")
		workflowURL, err := w.readLine()
		if err != nil {
			return nil, err
		}

		if err := validator.ValidateURL(workflowURL, "workflow URL"); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		cfg.Webhook.WorkflowURL = workflowURL
		break
	}

	fmt.Print("Webhook API Key (press Enter to skip): ")
	webhookKey, err := w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.Webhook.APIKey = webhookKey

	fmt.Println()

	// Session store
	fmt.Println("Session store options:")
	fmt.Println("  memory - In-process store, lost on restart (default)")
	fmt.Println("  redis  - Shared store for multi-instance deployments")
	fmt.Println("  sqlite - Durable single-instance store")
	fmt.Print("Store backend [memory]: ")
	backend, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if backend == "" {
		backend = "memory"
	}

	if err := validator.ValidateBackend(backend); err != nil {
		fmt.Printf("Warning: %v, using default (memory)\n", err)
		backend = "memory"
	}

	cfg.Store.Backend = backend

	if backend == "redis" {
		for {
			fmt.Printf("Redis address [%s]: ", cfg.Store.Redis.Addr)
			addr, err := w.readLine()
			if err != nil {
				return nil, err
			}

			if addr != "" {
				cfg.Store.Redis.Addr = addr
			}

			if cfg.Store.Redis.Addr == "" {
				fmt.Println("Error: Redis address is required when backend is redis")
				continue
			}
			break
		}
	}

	fmt.Println()

	// Log Level
	fmt.Println("Logging:")
	fmt.Print("Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
