package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/rahul4469/meter-reader/internal/config"
	"github.com/rahul4469/meter-reader/internal/crypto"
	"github.com/rahul4469/meter-reader/internal/logging"
	"github.com/rahul4469/meter-reader/internal/models"
	"github.com/rahul4469/meter-reader/internal/services"
)

const helpText = `commands:
  key <api key>          set the API key for this run
  prompt <file>          load the analysis prompt from a file
  schema <file>          load the expected JSON structure from a file
  reset [field]          restore prompt|schema|key|defaults|all (default: defaults)
  analyze [image file]   analyze a photo; without a file the last photo is reused
  show                   print the last result
  export <file>          write the last result as JSON
  settings               print the current prompt and JSON structure
  help                   this text
  quit                   exit`

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainImpl() error {
	visionCfg, level, err := config.LoadVision()
	if err != nil {
		return err
	}
	logger := logging.NewWithWriter(os.Stderr, "development", level)

	// the key only lives as long as this process
	secret, err := crypto.GenerateSecret()
	if err != nil {
		return err
	}
	sealer, err := crypto.NewEncryptorFromSecret(secret, "meter-reader console api key")
	if err != nil {
		return err
	}

	c := &console{
		session: models.NewSession(sealer),
		analyzer: services.NewVisionAnalyzer(services.VisionOptions{
			BaseURL:   visionCfg.BaseURL,
			Model:     visionCfg.Model,
			MaxTokens: visionCfg.MaxTokens,
			Timeout:   visionCfg.Timeout,
			Logger:    logger,
		}),
		out:       os.Stdout,
		readFile:  os.ReadFile,
		writeFile: os.WriteFile,
	}

	rl, err := readline.New("meter> ")
	if err != nil {
		return err
	}
	defer func() {
		_ = rl.Close()
	}()

	fmt.Fprintln(c.out, "Meter reader console. Type 'help' for commands.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if err := c.exec(context.Background(), line); err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
	}
	return nil
}

type analyzer interface {
	Analyze(ctx context.Context, in services.AnalysisInput) (*models.Reading, error)
}

// console drives one session from typed commands.
type console struct {
	session   *models.Session
	analyzer  analyzer
	out       io.Writer
	readFile  func(string) ([]byte, error)
	writeFile func(string, []byte, os.FileMode) error
}

func (c *console) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	c.session.Lock()
	defer c.session.Unlock()
	settings := c.session.Settings()

	switch cmd {
	case "help":
		fmt.Fprintln(c.out, helpText)
	case "key":
		if arg == "" {
			return errors.New("usage: key <api key>")
		}
		if err := settings.SetAPIKey(arg); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "API key updated.")
	case "prompt":
		data, err := c.readArg(arg, "prompt <file>")
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(data)) == "" {
			return errors.New("prompt file is empty")
		}
		settings.SetPrompt(string(data))
		fmt.Fprintln(c.out, "Prompt updated.")
	case "schema":
		data, err := c.readArg(arg, "schema <file>")
		if err != nil {
			return err
		}
		if err := settings.SetSchema(string(data)); err != nil {
			return fmt.Errorf("%w (previous structure kept)", err)
		}
		fmt.Fprintln(c.out, "The JSON structure is valid.")
	case "reset":
		return c.reset(settings, arg)
	case "analyze":
		return c.analyze(ctx, settings, arg)
	case "show":
		if c.session.Result() == nil {
			return models.ErrNoResult
		}
		return services.WriteText(c.out, services.RenderReading(c.session.Result()))
	case "export":
		if arg == "" {
			arg = "analisis_medidor.json"
		}
		body, err := c.session.Result().ExportJSON()
		if err != nil {
			return err
		}
		if err := c.writeFile(arg, body, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Result written to %s\n", arg)
	case "settings":
		state := "not set"
		if settings.HasAPIKey() {
			state = "set"
		}
		fmt.Fprintf(c.out, "API key: %s\n\nPrompt:\n%s\n\nExpected JSON format:\n%s\n", state, settings.Prompt(), settings.Schema())
	default:
		return fmt.Errorf("unknown command %q, type 'help'", cmd)
	}
	return nil
}

// analyze follows the same order as the web handler: key, then image, then
// exactly one call.
func (c *console) analyze(ctx context.Context, settings *models.Settings, path string) error {
	apiKey, err := settings.APIKey()
	if err != nil {
		return err
	}
	if apiKey == "" {
		return errors.New("no API key, set one with 'key <api key>'")
	}

	if path != "" {
		data, err := c.readFile(path)
		if err != nil {
			return err
		}
		img, err := services.InspectImage(data)
		if err != nil {
			return errors.New(models.NewImageError("unusable image", err).UserMessage())
		}
		// kept even if the call below fails, so a bare analyze retries it
		c.session.SetImage(img)
	}
	if c.session.Image() == nil {
		return models.ErrNoImage
	}

	fmt.Fprintln(c.out, "Analyzing meter image...")
	reading, err := c.analyzer.Analyze(ctx, services.AnalysisInput{
		Image:  c.session.Image(),
		APIKey: apiKey,
		Prompt: settings.Prompt(),
		Schema: settings.Schema(),
	})
	if err != nil {
		var ae *models.AnalysisError
		if errors.As(err, &ae) {
			return errors.New(ae.UserMessage())
		}
		return err
	}

	c.session.SetResult(reading)
	fmt.Fprintln(c.out, "Analysis complete!")
	return services.WriteText(c.out, services.RenderReading(reading))
}

func (c *console) reset(settings *models.Settings, field string) error {
	switch field {
	case "prompt":
		settings.ResetPrompt()
	case "schema":
		settings.ResetSchema()
	case "key":
		settings.ResetAPIKey()
	case "", "defaults":
		settings.ResetDefaults()
	case "all":
		settings.ResetAll()
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	fmt.Fprintln(c.out, "Settings restored.")
	return nil
}

func (c *console) readArg(path, usage string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("usage: " + usage)
	}
	return c.readFile(path)
}
