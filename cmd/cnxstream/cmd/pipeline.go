package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-cnxstream/pkg/bqstore"
	"github.com/illmade-knight/go-cnxstream/pkg/cache"
	"github.com/illmade-knight/go-cnxstream/pkg/config"
	"github.com/illmade-knight/go-cnxstream/pkg/enrichment"
	"github.com/illmade-knight/go-cnxstream/pkg/icestore"
	"github.com/illmade-knight/go-cnxstream/pkg/messagepipeline"
	"github.com/illmade-knight/go-cnxstream/pkg/metrics"
	"github.com/illmade-knight/go-cnxstream/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// pipeline is everything downstream of the ingest loop: the enrichment
// transformers, the sink processors, and how to shut them down.
type pipeline struct {
	logger       zerolog.Logger
	transformers []messagepipeline.EventTransformer
	processors   []messagepipeline.EventProcessor
	stops        []func(context.Context) error
	closers      []func() error
}

func (p *pipeline) add(name string, proc messagepipeline.EventProcessor) {
	p.processors = append(p.processors, metrics.CountSinkErrors(name, proc))
	p.logger.Info().Str("sink", name).Msg("Sink enabled.")
}

func (p *pipeline) startSink(ctx context.Context, name string, sink messagepipeline.EventSink) {
	sink.Start(ctx)
	p.stops = append(p.stops, sink.Stop)
	p.add(name, sink.Processor())
}

// processor fans every record out to the enabled sinks and counts it.
func (p *pipeline) processor() messagepipeline.EventProcessor {
	return metrics.CountEvents(messagepipeline.Fanout(p.logger, p.processors...))
}

// shutdown flushes the sinks, then releases the clients they were built on.
func (p *pipeline) shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, stop := range p.stops {
		if err := stop(ctx); err != nil {
			p.logger.Error().Err(err).Msg("Failed to stop sink cleanly.")
		}
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			p.logger.Warn().Err(err).Msg("Error closing client.")
		}
	}
	p.logger.Info().Msg("Pipeline shut down.")
}

func gcpOptions(cfg *config.Config) []option.ClientOption {
	if cfg.GCP.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.GCP.CredentialsFile)}
}

// buildPipeline creates the sinks the configuration enables. Sinks are started
// with ctx; on error everything already built is shut down.
func buildPipeline(ctx context.Context, cfg *config.Config, console io.Writer, logger zerolog.Logger) (_ *pipeline, err error) {
	p := &pipeline{logger: logger.With().Str("component", "Pipeline").Logger()}
	defer func() {
		if err != nil {
			p.shutdown(10 * time.Second)
		}
	}()

	if cfg.Output.Console {
		if console == nil {
			console = os.Stdout
		}
		p.add("console", messagepipeline.NewLogProcessor(console, logger))
	}

	if err = p.addPubsub(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err = p.addKafka(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err = p.addIceStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err = p.addBigQuery(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err = p.addEnrichment(ctx, cfg, logger); err != nil {
		return nil, err
	}

	if len(p.processors) == 0 {
		p.logger.Warn().Msg("No sinks enabled; decoded events are only counted.")
	}
	return p, nil
}

func (p *pipeline) addPubsub(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Pubsub.TopicID == "" && cfg.Pubsub.DeadLetterTopicID == "" {
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID, gcpOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("pubsub.NewClient: %w", err)
	}
	p.closers = append(p.closers, client.Close)

	if cfg.Pubsub.TopicID != "" {
		producer, err := messagepipeline.NewGooglePubsubProducer(ctx, cfg.PubsubProducer(), client, logger)
		if err != nil {
			return err
		}
		p.startSink(ctx, "pubsub", producer)
	}
	if cfg.Pubsub.DeadLetterTopicID != "" {
		pub, err := messagepipeline.NewGoogleSimplePublisher(ctx,
			messagepipeline.NewGoogleSimplePublisherDefaults(cfg.Pubsub.DeadLetterTopicID), client, logger)
		if err != nil {
			return err
		}
		p.stops = append(p.stops, pub.Stop)
		p.add("dead_letter", messagepipeline.WithOutcomeFilter(
			messagepipeline.NewDeadLetterProcessor(pub), types.OutcomeDecodeError))
	}
	return nil
}

func (p *pipeline) addKafka(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Kafka.Topic == "" {
		return nil
	}
	kcfg := cfg.KafkaProducer()
	writer, err := messagepipeline.NewKafkaWriter(kcfg)
	if err != nil {
		return err
	}
	producer, err := messagepipeline.NewKafkaProducer(kcfg, writer, logger)
	if err != nil {
		_ = writer.Close()
		return err
	}
	p.startSink(ctx, "kafka", producer)
	return nil
}

func (p *pipeline) addIceStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.IceStore.Bucket == "" {
		return nil
	}
	client, err := storage.NewClient(ctx, gcpOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("storage.NewClient: %w", err)
	}
	p.closers = append(p.closers, client.Close)

	uploader, err := icestore.NewGCSBatchUploader(icestore.NewGCSClientAdapter(client), cfg.IceStoreUploader(), logger)
	if err != nil {
		return err
	}
	p.startSink(ctx, "icestore", icestore.NewBatcher(cfg.IceStoreBatcher(), uploader, logger))
	return nil
}

func (p *pipeline) addBigQuery(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.BigQuery.DatasetID == "" {
		return nil
	}
	client, err := bqstore.NewProductionBigQueryClient(ctx, cfg.GCP.ProjectID, cfg.GCP.CredentialsFile, logger)
	if err != nil {
		return err
	}
	p.closers = append(p.closers, client.Close)

	inserter, err := bqstore.NewBigQueryInserter[bqstore.EventRow](ctx, client, cfg.BigQueryDataset(), logger)
	if err != nil {
		return err
	}
	batcher := bqstore.NewBatcher[bqstore.EventRow](cfg.BigQueryBatcher(), inserter, logger)
	batcher.Start(ctx)
	p.stops = append(p.stops, batcher.Stop)
	p.add("bigquery", batcher.Processor(bqstore.NewEventRow))
	return nil
}

// addEnrichment installs the customer lookup: an LRU in front of either the
// static profiles from the config file or Firestore, with Redis between the
// LRU and Firestore when an address is configured.
func (p *pipeline) addEnrichment(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ecfg := cfg.Enrichment
	var source cache.Fetcher[string, enrichment.CustomerProfile]

	switch ecfg.Source {
	case config.SourceNone, "":
		return nil
	case config.SourceStatic:
		static := cache.NewInMemoryCache[string, enrichment.CustomerProfile](nil)
		for _, c := range ecfg.Customers {
			static.Put(c.CustomerID, c)
		}
		p.logger.Info().Int("customers", static.Len()).Msg("Loaded static customer profiles.")
		source = static
	case config.SourceFirestore:
		client, err := firestore.NewClient(ctx, cfg.GCP.ProjectID, gcpOptions(cfg)...)
		if err != nil {
			return fmt.Errorf("firestore.NewClient: %w", err)
		}
		p.closers = append(p.closers, client.Close)
		documents, err := cache.NewFirestoreSource[string, enrichment.CustomerProfile](cfg.Firestore(), client, logger)
		if err != nil {
			return err
		}
		source = documents
		if ecfg.RedisAddr != "" {
			redisCache, err := cache.NewRedisCache[string, enrichment.CustomerProfile](ctx, cfg.Redis(), logger, documents)
			if err != nil {
				return err
			}
			p.closers = append(p.closers, redisCache.Close)
			source = redisCache
		}
	default:
		return fmt.Errorf("unknown enrichment source %q", ecfg.Source)
	}

	lru, err := cache.NewInMemoryLRUCache[string, enrichment.CustomerProfile](ecfg.LRUSize, ecfg.LRUTTL, source)
	if err != nil {
		return err
	}
	enrich, err := enrichment.NewEnricherFunc(
		enrichment.FromCache[string, enrichment.CustomerProfile](enrichment.FetcherConfig{FetchTimeout: ecfg.FetchTimeout}, lru),
		enrichment.SubjectKey, enrichment.CustomerApplier, logger)
	if err != nil {
		return err
	}
	p.transformers = append(p.transformers, enrich)
	p.logger.Info().Str("source", ecfg.Source).Msg("Customer enrichment enabled.")
	return nil
}
