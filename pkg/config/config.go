package config

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	goversion "github.com/hashicorp/go-version"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/vitasync/vitasync/pkg/errors"
	"github.com/vitasync/vitasync/pkg/version"
)

// ConfigPath is where the optional configuration file is looked up, relative
// to the working directory. A missing file just means defaults.
const ConfigPath = "vitasync.yaml"

// InitialConfigVersion is the first version of the vitasync config. Config
// files that do not specify a version will default to this version.
const InitialConfigVersion = "v1alpha1"

// SupportedConfigVersion is the config version supported by the current
// vitasync binary.
const SupportedConfigVersion = "v1alpha1"

// DefaultPort is the control port the Vita's FTP applications listen on.
const DefaultPort = 1337

// DefaultRemoteRoot is the savedata directory on the Vita's memory card.
const DefaultRemoteRoot = "ux0:/user/00/savedata"

// Config tunes a sync run. Every field is optional.
type Config struct {
	Version string `json:"version,omitempty"`

	// Port is the endpoints' FTP control port.
	Port int `json:"port,omitempty"`

	// RemoteRoot is the remote directory to synchronize.
	RemoteRoot string `json:"remoteRoot,omitempty"`

	// StagingRoot is where per-endpoint staging trees are created. Defaults
	// to the system temp directory.
	StagingRoot string `json:"stagingRoot,omitempty"`

	// Ignore lists entry names that are never pulled or pushed.
	Ignore []string `json:"ignore,omitempty"`

	// TimeoutSeconds arms a watchdog around every remote operation, so a
	// wedged endpoint fails the run instead of hanging it. Zero disables
	// the watchdog.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`

	// MinVersion is the oldest vitasync release allowed to touch this
	// tree. Useful when one canonical tree is shared between machines.
	MinVersion string `json:"minVersion,omitempty"`
}

func (c Config) getVersion() string {
	return c.Version
}

// parseConfigErrTemplate is shown when the configuration file fails to parse.
// This can happen for a multitude of reasons, including extraneous fields and
// incorrect field types, but the yaml library constructs errors in a way that
// loses context, so we can only pass the error message on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Having extra fields inside the config file\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The configuration file %q is incompatible "+
		"with this version of vitasync.\n"+
		"Expected version %q, but got %q.", err.path, err.exp, err.actual)
}

// Parse reads the configuration file if it exists and fills in defaults.
func Parse() (Config, error) {
	config := Config{
		Version:    InitialConfigVersion,
		Port:       DefaultPort,
		RemoteRoot: DefaultRemoteRoot,
	}

	err := parseConfig(ConfigPath, &config, SupportedConfigVersion)
	if err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return config, nil
		}
		return Config{}, err
	}

	if config.StagingRoot != "" {
		expanded, err := homedir.Expand(config.StagingRoot)
		if err != nil {
			return Config{}, errors.WithContext(err, "expand staging root")
		}
		config.StagingRoot = expanded
	}
	return config, nil
}

// CheckVersion enforces the config's minVersion against the running binary.
// Development builds (which have no version stamped in) always pass.
func (c Config) CheckVersion(current string) error {
	if c.MinVersion == "" || current == version.EmptyValue {
		return nil
	}

	minimum, err := goversion.NewVersion(c.MinVersion)
	if err != nil {
		return errors.NewFriendlyError(
			"The minVersion %q in %q is not a valid version string.",
			c.MinVersion, ConfigPath)
	}

	running, err := goversion.NewVersion(current)
	if err != nil {
		return errors.WithContext(err, "parse binary version")
	}

	if running.LessThan(minimum) {
		return errors.NewFriendlyError(
			"This tree requires vitasync %s or newer, but this binary is %s.\n"+
				"Please upgrade before syncing.", c.MinVersion, current)
	}
	return nil
}

func parseConfig(path string, config *Config, expVersion string) error {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if isPathNotFoundError(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	err = yaml.Unmarshal(configBytes, config)
	if err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}

	if config.getVersion() != expVersion {
		return incompatibleVersionError{path, expVersion, config.getVersion()}
	}

	// Do a strict unmarshal to check for any extra fields. We do a non-strict
	// unmarshal first so that we can catch version errors before erroring on
	// extra fields.
	err = yaml.UnmarshalStrict(configBytes, config, yaml.DisallowUnknownFields)
	if err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return nil
}

func isPathNotFoundError(err error) bool {
	if os.IsNotExist(err) {
		return true
	}
	if fileErr, ok := err.(*os.PathError); ok &&
		fileErr.Op == "open" && fileErr.Err.Error() == "no such file or directory" {
		return true
	}
	return false
}
