package app

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go/aws/session"
	ddb "github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/JiscSD/rdss-repository-core/bitstore"
	"github.com/JiscSD/rdss-repository-core/dao"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/events"
	"github.com/JiscSD/rdss-repository-core/identifier"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/s3"
	"github.com/JiscSD/rdss-repository-core/storage"
	"github.com/JiscSD/rdss-repository-core/storage/boltdb"
	"github.com/JiscSD/rdss-repository-core/storage/dynamodb"
	"github.com/JiscSD/rdss-repository-core/storage/memstore"
	"github.com/JiscSD/rdss-repository-core/version"

	// Plugins register themselves with pipeline.DefaultRegistry.
	_ "github.com/JiscSD/rdss-repository-core/plugin/audit"
	_ "github.com/JiscSD/rdss-repository-core/plugin/metrics"
)

func NewCmdServer(logger logrus.FieldLogger, config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the application server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.WithField("v", version.VERSION).Info("Starting server...")
			return doServer(logger, config)
		},
	}
}

func doServer(logger logrus.FieldLogger, config *Config) error {
	store, err := newStore(logger, config)
	if err != nil {
		return err
	}
	defer store.Close()

	repo, err := newRepository(logger, config, store, pipeline.DefaultRegistry, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	srv := newServer(logger, repo, pipeline.DefaultRegistry, config.Server.CleanupInterval)

	var g run.Group
	{
		ctx, cancel := context.WithCancel(context.Background())

		g.Add(func() error {
			return srv.runJanitor(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		ln, err := net.Listen("tcp", config.Server.Listen)
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

		g.Add(func() error {
			return http.Serve(ln, srv.handler())
		}, func(error) {
			ln.Close()
		})
	}
	{
		cancel := make(chan struct{})

		g.Add(func() error {
			err := interrupt(cancel, srv.requestCleanup, srv.report)
			logger.Warn("Shutting down...")
			return err
		}, func(error) {
			close(cancel)
		})
	}

	return g.Run()
}

// newStore opens the backing store selected by the configuration.
func newStore(logger logrus.FieldLogger, config *Config) (storage.Store, error) {
	switch config.Storage.Backend {
	case backendMemory:
		logger.Warn("Using the memory store, nothing will be persisted")
		return memstore.New(), nil
	case backendBolt:
		return boltdb.New(logger.WithField("component", "boltdb"), config.Storage.BoltPath)
	case backendDynamoDB:
		sess, err := awsSession(logger, config.AWS.DynamoDBProfile, config.AWS.DynamoDBEndpoint)
		if err != nil {
			return nil, err
		}
		return dynamodb.New(ddb.New(sess), config.Storage.DynamoDBTable), nil
	}
	return nil, rErrors.Errorf(rErrors.Configuration, "unknown storage backend %q", config.Storage.Backend)
}

// newAssets registers the asset stores that the configuration enables.
func newAssets(logger logrus.FieldLogger, config *Config) (*bitstore.Manager, error) {
	assets := bitstore.NewManager(logger, config.AssetStore.Incoming)
	if dir := config.AssetStore.FileDir; dir != "" {
		assets.Register(storeFile, bitstore.NewFileStore(afero.NewOsFs(), dir))
	}
	if location := config.AssetStore.S3Location; location != "" {
		sess, err := awsSession(logger, config.AWS.S3Profile, config.AWS.S3Endpoint)
		if err != nil {
			return nil, err
		}
		objects, err := s3.New(sess, location)
		if err != nil {
			return nil, err
		}
		assets.Register(storeS3, objects)
	}
	return assets, nil
}

func newPublisher(logger logrus.FieldLogger, config *Config) (events.Publisher, error) {
	logger = logger.WithField("component", "events")
	if config.Events.SNSTopic == "" {
		return &events.LogPublisher{Logger: logger}, nil
	}
	sess, err := awsSession(logger, config.AWS.SNSProfile, config.AWS.SNSEndpoint)
	if err != nil {
		return nil, err
	}
	return events.NewSNSPublisher(logger, sns.New(sess), config.Events.SNSTopic), nil
}

// configurePlugins applies the feature flags and sequences of the
// configuration to plugins. Enabling a plugin that is not registered is a
// Configuration error.
func configurePlugins(config *Config, plugins *pipeline.Registry) error {
	registered := plugins.Plugins()
	flags := make(map[string]interface{}, len(registered))
	for _, name := range registered {
		flags[name] = false
	}
	for _, name := range config.Pipeline.PluginsEnabled {
		if _, ok := flags[name]; !ok {
			return rErrors.Errorf(rErrors.Configuration, "unknown plugin %q", name)
		}
		flags[name] = true
	}
	return plugins.Configure(flags, config.pluginSequences())
}

func newRepository(logger logrus.FieldLogger, config *Config, store storage.Store, plugins *pipeline.Registry, registerer prometheus.Registerer) (*dao.Repository, error) {
	types, err := config.handleTypes()
	if err != nil {
		return nil, err
	}
	if err := configurePlugins(config, plugins); err != nil {
		return nil, err
	}
	assets, err := newAssets(logger, config)
	if err != nil {
		return nil, err
	}
	publisher, err := newPublisher(logger, config)
	if err != nil {
		return nil, err
	}

	return dao.New(context.Background(), logger, dao.Config{
		Store:         store,
		Assets:        assets,
		Providers:     []identifier.Provider{identifier.NewHandleProvider(store, config.Identifier.HandlePrefix, types...)},
		Publisher:     publisher,
		Plugins:       plugins,
		PluginOptions: config.Pipeline.Options,
		Registerer:    registerer,
	})
}

type logrusProxy struct {
	logger logrus.FieldLogger
}

func (l logrusProxy) Log(args ...interface{}) {
	l.logger.WithField("client", "aws").Debug(args...)
}

// awsSession returns a session using NewSessionWithOptions meaning that it
// relies on the SDK defaults but also the user config files and environment.
//
// AWS_S3_FORCE_PATH_STYLE is a made-up environment string that the SDK does
// not look up. It is needed by S3-compatible stores like MinIO.
func awsSession(logger logrus.FieldLogger, profile, endpoint string) (*session.Session, error) {
	options := session.Options{}
	if profile != "" {
		options.Profile = profile
	}
	if endpoint != "" {
		options.Config.WithEndpoint(endpoint)
	}
	if res, ok := os.LookupEnv("AWS_S3_FORCE_PATH_STYLE"); ok {
		enabled, _ := strconv.ParseBool(res)
		options.Config.WithS3ForcePathStyle(enabled)
	}
	if logrus.GetLevel() == logrus.DebugLevel {
		options.Config.WithCredentialsChainVerboseErrors(true)
	}
	options.Config.WithLogger(logrusProxy{logger: logger})
	return session.NewSessionWithOptions(options)
}
