// Command cifloader implements the CIF bulk/update extract loader CLI
// surface of spec.md §6: fetch (or read a local file), parse, and apply one
// CIF extract inside a single transaction. Grounded on the teacher's
// cli/root.go cobra command shape, generalised from one long-running HTTP
// server command to a one-shot batch command.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nrod/ingest/internal/cif"
	"github.com/nrod/ingest/internal/config"
	"github.com/nrod/ingest/internal/feed"
	"github.com/nrod/ingest/internal/logging"
	"github.com/nrod/ingest/internal/store"
)

// Additive config keys beyond spec.md §6's recognised list, accepted per
// config.Load's "unrecognised keys are kept" contract: archive_bucket opts
// the fetched extract into a durable S3 copy (internal/feed.Archiver);
// archive_access_key/archive_secret_key select a static credentials
// provider over the default AWS chain when set.
const (
	keyArchiveBucket    = "archive_bucket"
	keyArchiveAccessKey = "archive_access_key"
	keyArchiveSecretKey = "archive_secret_key"
)

var (
	flagConfig   string
	flagURL      string
	flagFile     string
	flagFull     bool
	flagTest     bool
	flagVerbose  bool
	flagInsecure bool
)

func main() {
	root := &cobra.Command{
		Use:           "cifloader",
		Short:         "load a CIF schedule extract into the store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&flagConfig, "config", "c", "", "configuration file (required)")
	root.Flags().StringVarP(&flagURL, "url", "u", "", "fetch the extract from this URL")
	root.Flags().StringVarP(&flagFile, "file", "f", "", "load this local file instead of fetching")
	root.Flags().BoolVarP(&flagFull, "full", "a", false, "fetch/expect a full extract rather than an update")
	root.Flags().BoolVarP(&flagTest, "test", "t", false, "parse only, no database writes")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "p", false, "verbose logging")
	root.Flags().BoolVarP(&flagInsecure, "insecure", "i", false, "allow the insecure-TLS retry fallback")
	root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cifloader:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	log := logging.New("cifloader", flagVerbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	path := flagFile
	if path == "" {
		url := flagURL
		if url == "" {
			if nrServer := cfg.Get(config.KeyNRServer, ""); nrServer != "" {
				url = defaultFetchURL(nrServer, flagFull, timeNow())
			}
		}
		if url == "" {
			return fmt.Errorf("cifloader: one of -u or -f is required, and nr_server is not set")
		}
		headers := map[string]string{}
		if user := cfg.Get(config.KeyNRUser, ""); user != "" {
			headers["Authorization"] = basicAuth(user, cfg.Get(config.KeyNRPassword, ""))
		}
		res, err := feed.Fetch(ctx, feed.Options{
			URL:      url,
			Headers:  headers,
			TmpDir:   os.TempDir(),
			Prog:     "cifloader",
			Insecure: flagInsecure,
		}, logging.Frame(log, "fetch"))
		if err != nil {
			return err
		}
		path = res.Path

		if bucket := cfg.Get(keyArchiveBucket, ""); bucket != "" {
			if err := archiveExtract(ctx, log, bucket, cfg, path); err != nil {
				log.WithError(err).Warn("cifloader: archival upload failed, continuing with load")
			}
		}
	}

	if flagTest {
		counters, err := validateFile(path)
		if err != nil {
			return err
		}
		log.WithField("cards", counters).Info("cifloader: test parse complete, no database writes")
		return nil
	}

	db, err := store.Open(ctx, cfg.DSN(), log)
	if err != nil {
		return err
	}
	defer db.Close()

	loader := cif.NewLoader(db, logging.Frame(log, "cif"))
	counters, err := loader.LoadFile(ctx, path, !flagFull)
	if err != nil {
		if err == cif.ErrAlreadyLoaded {
			log.Info("cifloader: extract already loaded, nothing to do")
			return nil
		}
		return err
	}
	log.WithField("counters", fmt.Sprintf("%+v", counters)).Info("cifloader: load complete")
	return nil
}

// validateFile is the "-t" dry run: it walks every card and parses it, but
// never opens a database connection or transaction.
func validateFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("cifloader: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4096), 4096)
	cards := 0
	for scanner.Scan() {
		line := scanner.Text()
		cards++
		var perr error
		switch cif.Identity(line) {
		case cif.RecordBasicSchedule:
			_, perr = cif.ParseBasicSchedule(line)
		case cif.RecordBasicExtra:
			_, perr = cif.ParseBasicExtra(line)
		case cif.RecordOrigin, cif.RecordIntermediate, cif.RecordTerminus:
			_, perr = cif.ParseLocation(line)
		case cif.RecordChangeEnRoute:
			_, perr = cif.ParseChangeEnRoute(line)
		case cif.RecordAssociation:
			_, perr = cif.ParseAssociation(line)
		case cif.RecordTiplocInsert, cif.RecordTiplocAmend, cif.RecordTiplocDelete:
			_, perr = cif.ParseTiploc(line)
		}
		if perr != nil {
			return cards, fmt.Errorf("cifloader: card %d: %w", cards, perr)
		}
	}
	if err := scanner.Err(); err != nil {
		return cards, fmt.Errorf("cifloader: scan: %w", err)
	}
	return cards, nil
}

// archiveExtract uploads the fetched extract to the configured S3(-compatible)
// bucket. Failure here is never fatal to the load itself (spec.md's error
// handling design treats archival as a durability enrichment, not a load
// precondition).
func archiveExtract(ctx context.Context, log *logrus.Logger, bucket string, cfg *config.Config, path string) error {
	creds := feed.ArchiveCredentials{
		AccessKey: cfg.Get(keyArchiveAccessKey, ""),
		SecretKey: cfg.Get(keyArchiveSecretKey, ""),
	}
	archiver, err := feed.NewArchiver(ctx, bucket, creds)
	if err != nil {
		return err
	}
	key := feed.ArchiveObjectKey("cifloader", filepath.Base(path))
	if err := archiver.Upload(ctx, path, key); err != nil {
		return err
	}
	log.WithField("bucket", bucket).WithField("key", key).Info("cifloader: archived extract to s3")
	return nil
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

var timeNow = time.Now

// defaultFetchURL builds the Network Rail full/update extract URL when -u
// is omitted, following the original cifdb.c CifFileAuthenticate scheme:
// full extracts are day-agnostic, updates are named after today's weekday.
func defaultFetchURL(nrServer string, full bool, now time.Time) string {
	if full {
		return fmt.Sprintf("https://%s/ntrod/CifFileAuthenticate?type=CIF_ALL_FULL_DAILY&day=toc-full.CIF.gz", nrServer)
	}
	weekday := strings.ToLower(now.Weekday().String())[:3]
	return fmt.Sprintf("https://%s/ntrod/CifFileAuthenticate?type=CIF_ALL_UPDATE_DAILY&day=toc-update-%s.CIF.gz", nrServer, weekday)
}
