package app

import (
	"io/ioutil"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
)

const defaultConfig = `# RDSS Repository Core

################################## LOGGING ####################################

[logging]

#
# Logging verbosity level.
# Supported values: "DEBUG", "INFO", "WARN", "ERROR", "FATAL" or "PANIC".
#
level = "INFO"

################################## STORAGE ####################################

[storage]

#
# Backing store of the object rows and links.
# Supported values: "memory", "bolt" or "dynamodb".
#
# The memory store loses everything on exit and is meant for trials.
#
backend = "bolt"

#
# Path of the database file (bolt).
#
bolt_path = "/var/lib/rdss-repository/repository.db"

#
# Name of the table (DynamoDB).
#
dynamodb_table = "rdss_repository"

################################## ASSET STORE ################################

[assetstore]

#
# Store number receiving new bitstreams: 0 is the directory store, 1 the S3
# store. Bitstreams stored earlier are read from the store they name.
#
incoming = 0

#
# Directory of store 0. Empty disables it.
#
file_dir = "/var/lib/rdss-repository/assetstore"

#
# Location of store 1, e.g. "s3://bucket/prefix". Empty disables it.
#
s3_location = ""

################################## IDENTIFIER #################################

[identifier]

#
# Prefix of the handles minted for new objects.
#
handle_prefix = "123456789"

#
# Object types receiving a handle. Items receive theirs once archived.
#
types = ["community", "collection", "item"]

################################## PIPELINE ###################################

[pipeline]

#
# Plugins switched on. Available plugins: "audit", "metrics".
#
plugins_enabled = []

#
# Plugin stages per object type, outermost first. Plugins that are not
# enabled are skipped.
#
sequence_community = ["metrics", "audit"]
sequence_collection = ["metrics", "audit"]
sequence_item = ["metrics", "audit"]
sequence_bundle = ["metrics", "audit"]
sequence_bitstream = ["metrics", "audit"]

#
# Plugin options, one table per plugin.
#
[pipeline.options.audit]
reads = false

################################## EVENTS #####################################

[events]

#
# AWS SNS topic ARN receiving the domain events, e.g.
# "arn:aws:sns:us-east-2:444455556666:repository". Empty logs them instead.
#
sns_topic = ""

################################## SERVER #####################################

[server]

#
# Address of the HTTP listener serving health, metrics, profiling data and
# the read-only object lookup.
#
listen = ":6060"

#
# How often soft-deleted bitstreams are purged. Zero disables the timer; a
# purge can still be requested with SIGUSR1.
#
cleanup_interval = "1h"

################################## AWS ########################################

[aws]

s3_profile = ""
s3_endpoint = ""

dynamodb_profile = ""
dynamodb_endpoint = ""

sns_profile = ""
sns_endpoint = ""
`

// Supported backing stores.
const (
	backendMemory   = "memory"
	backendBolt     = "bolt"
	backendDynamoDB = "dynamodb"
)

// Asset store numbers.
const (
	storeFile = 0
	storeS3   = 1
)

type Config struct {
	v *viper.Viper

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Storage struct {
		Backend       string `mapstructure:"backend"`
		BoltPath      string `mapstructure:"bolt_path"`
		DynamoDBTable string `mapstructure:"dynamodb_table"`
	} `mapstructure:"storage"`

	AssetStore struct {
		Incoming   int    `mapstructure:"incoming"`
		FileDir    string `mapstructure:"file_dir"`
		S3Location string `mapstructure:"s3_location"`
	} `mapstructure:"assetstore"`

	Identifier struct {
		HandlePrefix string   `mapstructure:"handle_prefix"`
		Types        []string `mapstructure:"types"`
	} `mapstructure:"identifier"`

	Pipeline struct {
		PluginsEnabled     []string                          `mapstructure:"plugins_enabled"`
		SequenceCommunity  []string                          `mapstructure:"sequence_community"`
		SequenceCollection []string                          `mapstructure:"sequence_collection"`
		SequenceItem       []string                          `mapstructure:"sequence_item"`
		SequenceBundle     []string                          `mapstructure:"sequence_bundle"`
		SequenceBitstream  []string                          `mapstructure:"sequence_bitstream"`
		Options            map[string]map[string]interface{} `mapstructure:"options"`
	} `mapstructure:"pipeline"`

	Events struct {
		SNSTopic string `mapstructure:"sns_topic"`
	} `mapstructure:"events"`

	Server struct {
		Listen          string        `mapstructure:"listen"`
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	} `mapstructure:"server"`

	AWS struct {
		S3Profile        string `mapstructure:"s3_profile"`
		S3Endpoint       string `mapstructure:"s3_endpoint"`
		DynamoDBProfile  string `mapstructure:"dynamodb_profile"`
		DynamoDBEndpoint string `mapstructure:"dynamodb_endpoint"`
		SNSProfile       string `mapstructure:"sns_profile"`
		SNSEndpoint      string `mapstructure:"sns_endpoint"`
	} `mapstructure:"aws"`
}

func (c Config) Validate() error {
	if c.Logging.Level != "" {
		if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
			return rErrors.NewWithError(rErrors.Configuration, err)
		}
	}

	switch c.Storage.Backend {
	case backendMemory:
	case backendBolt:
		if c.Storage.BoltPath == "" {
			return rErrors.New(rErrors.Configuration, "storage.bolt_path is required by the bolt backend")
		}
	case backendDynamoDB:
		if c.Storage.DynamoDBTable == "" {
			return rErrors.New(rErrors.Configuration, "storage.dynamodb_table is required by the dynamodb backend")
		}
	default:
		return rErrors.Errorf(rErrors.Configuration, "unknown storage backend %q", c.Storage.Backend)
	}

	switch c.AssetStore.Incoming {
	case storeFile:
		if c.AssetStore.FileDir == "" {
			return rErrors.New(rErrors.Configuration, "assetstore.incoming names store 0 but assetstore.file_dir is empty")
		}
	case storeS3:
		if c.AssetStore.S3Location == "" {
			return rErrors.New(rErrors.Configuration, "assetstore.incoming names store 1 but assetstore.s3_location is empty")
		}
	default:
		return rErrors.Errorf(rErrors.Configuration, "unknown asset store %d", c.AssetStore.Incoming)
	}

	if c.Identifier.HandlePrefix == "" {
		return rErrors.New(rErrors.Configuration, "identifier.handle_prefix is required")
	}
	if _, err := c.handleTypes(); err != nil {
		return err
	}

	if c.Server.CleanupInterval < 0 {
		return rErrors.New(rErrors.Configuration, "server.cleanup_interval cannot be negative")
	}

	return nil
}

func (c Config) handleTypes() ([]content.Type, error) {
	types := make([]content.Type, 0, len(c.Identifier.Types))
	for _, name := range c.Identifier.Types {
		t, ok := content.ParseType(name)
		if !ok {
			return nil, rErrors.Errorf(rErrors.Configuration, "identifier.types: unknown type %q", name)
		}
		types = append(types, t)
	}
	return types, nil
}

// pluginSequences returns the plugin sequences keyed by type name.
func (c Config) pluginSequences() map[string]interface{} {
	return map[string]interface{}{
		content.TypeCommunity.String():  c.Pipeline.SequenceCommunity,
		content.TypeCollection.String(): c.Pipeline.SequenceCollection,
		content.TypeItem.String():       c.Pipeline.SequenceItem,
		content.TypeBundle.String():     c.Pipeline.SequenceBundle,
		content.TypeBitstream.String():  c.Pipeline.SequenceBitstream,
	}
}

func (c Config) String() string {
	tmpfile, err := ioutil.TempFile("", "config.*.toml")
	if err != nil {
		return err.Error()
	}
	defer os.Remove(tmpfile.Name())
	defer tmpfile.Close()
	err = c.v.WriteConfigAs(tmpfile.Name())
	if err != nil {
		return err.Error()
	}
	blob, err := ioutil.ReadAll(tmpfile)
	if err != nil {
		return err.Error()
	}
	return string(blob)
}

func loadConfig(c *Config) error {
	v := viper.New()

	v.SetEnvPrefix("RDSS_REPOSITORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("rdss-repository")
	v.SetConfigType("toml")
	v.AddConfigPath("$HOME/.config/")
	v.AddConfigPath("/etc/rdss-repository/")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read our default configuration.
	if err := v.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		panic(err) // Not in the user path.
	}

	// Include configuration file provided by the user.
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	if err := v.Unmarshal(c); err != nil {
		return errors.Wrap(err, "configuration unmarshaling failed")
	}

	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "config did not pass validation")
	}

	c.v = v

	return nil
}
