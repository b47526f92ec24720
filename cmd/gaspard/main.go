package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/mbales/gaspard"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

var (
	prompt       = flag.String("prompt", "", "Caption instruction, empty uses the default one sentence prompt")
	model        = flag.String("model", "", "Model to request, empty uses the backend default")
	maxTokens    = flag.Int("max-tokens", 0, "Upper bound on generated tokens, 0 uses the default")
	openAI       = flag.Bool("openai", false, "Use OpenAI (the default when no backend is selected)")
	ollamaServer = flag.String("ollama", "", "Address of running ollama server, typically http://localhost:11434")
	llamaServer  = flag.String("llama", "", "Address of running llama server, typically http://localhost:8080")
	llamaSeed    = flag.Int("seed", 385480504, "Random seed to llama")
	dbPath       = flag.String("db", "", "Path to caption journal database, empty disables journaling")
	history      = flag.Int("history", 0, "Print the N most recent journaled captions and exit, requires -db")
	parallel     = flag.Int("parallel", 1, "Number of images to caption concurrently")
	timeout      = flag.Duration("timeout", gaspard.DefaultTimeout, "Timeout for caption requests")

	lameduck bool
)

func printHistory(ctx context.Context, n int) error {
	db, err := gaspard.NewDB(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	recs, err := db.RecentCaptions(ctx, n)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		fmt.Printf("%s  %s (%s/%s)\n  %s\n",
			rec.CreatedAt.Format(time.DateTime), rec.Path, rec.Captioner, rec.Model, rec.Caption)
	}

	return nil
}

func run(ctx context.Context, g *gaspard.Gaspard, images []string) error {
	var db *gaspard.DB
	if *dbPath != "" {
		var err error
		if db, err = gaspard.NewDB(ctx, *dbPath); err != nil {
			return err
		}
		defer db.Close()
	}

	// Local servers can be down, check before doing any work.
	if !g.IsHealthy() {
		return fmt.Errorf("server is not responding")
	}

	var bar *progressbar.ProgressBar
	if len(images) > 1 {
		bar = progressbar.NewOptions(
			len(images),
			progressbar.OptionSetDescription("Captioning"),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() { fmt.Println() }),
		)
	}

	captions := make([]string, len(images))
	errs := make([]error, len(images))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(1, *parallel))
	for i, img := range images {
		if lameduck || gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			captions[i], errs[i] = g.CaptionFile(gctx, img, *prompt, *maxTokens)
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	eg.Wait()
	if bar != nil {
		bar.Finish()
	}

	errcnt := 0
	for i, img := range images {
		switch {
		case errs[i] != nil:
			fmt.Printf("%s: error: %s\n", img, errs[i])
			errcnt++
		case captions[i] == "" && lameduck:
			// Skipped after SIGINT, nothing to report.
		case len(images) == 1:
			fmt.Println(captions[i])
		default:
			fmt.Printf("%s: %s\n", img, captions[i])
		}

		if errs[i] == nil && captions[i] != "" && db != nil {
			rec := &gaspard.CaptionRecord{
				Path:      img,
				Caption:   captions[i],
				Model:     g.Model(),
				Captioner: g.Name(),
				CreatedAt: time.Now(),
			}
			if fi, err := os.Stat(img); err == nil {
				rec.PathMTime = fi.ModTime()
			}
			if err := db.RecordCaption(ctx, rec); err != nil {
				fmt.Printf("error recording caption: %s\n", err)
			}
		}
	}
	if errcnt > 0 {
		return fmt.Errorf("%d of %d images failed", errcnt, len(images))
	}

	return nil
}

func sighandler(ch chan os.Signal, cancel context.CancelFunc) {
	for {
		<-ch
		if lameduck {
			// Already in lame duck, hard stop
			fmt.Println("Exiting")
			cancel()
			return
		} else {
			fmt.Println("SIGINT received, stopping...")
			lameduck = true
		}
	}
}

func main() {
	godotenv.Load() // a .env file is optional
	flag.Parse()

	if *history > 0 {
		if *dbPath == "" {
			fmt.Fprintln(os.Stderr, "-history requires -db")
			os.Exit(1)
		}
		if err := printHistory(context.Background(), *history); err != nil {
			log.Fatal(err)
		}
		return
	}

	images := flag.Args()
	if len(images) == 0 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] image ...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(1)
	}

	// OpenAI is the backend unless a local server was asked for.
	useOpenAI := *openAI || (*ollamaServer == "" && *llamaServer == "")

	g, err := gaspard.Init(gaspard.InitOptions{
		OpenAI:       useOpenAI,
		OllamaServer: *ollamaServer,
		LlamaServer:  *llamaServer,
		LlamaSeed:    *llamaSeed,
		Model:        *model,
		HttpClient: &http.Client{
			Timeout: *timeout,
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	sigch := make(chan os.Signal, 2)
	signal.Notify(sigch, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	go sighandler(sigch, cancel)

	if err := run(ctx, g, images); err != nil {
		log.Fatal(err)
	}
}
