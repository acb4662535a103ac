// Package job defines what to sync and where to: the connection to the destination
// host, the sync options, the source directories and the filters applied to them.
//
// Jobs are written in YAML and are either read from a local file, built from command
// line arguments or kept in S3 with every upload stored as a new version.
package job

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/studio1767/sshsync/internal/engine"
	"github.com/studio1767/sshsync/internal/ops"
	"github.com/studio1767/sshsync/internal/secrets"
	"github.com/studio1767/sshsync/internal/transport"
)

type ErrNoSuchJob struct {
	msg string
}

func (e *ErrNoSuchJob) Error() string {
	return e.msg
}

type ErrInvalidJob struct {
	msg string
}

func (e *ErrInvalidJob) Error() string {
	return e.msg
}

type Connection struct {
	Host string
	Port int
	User string

	// Password is used as given; PasswordId names a passphrase in the secrets file.
	Password   string
	PasswordId string `yaml:"password_id"`

	KeyFile  string `yaml:"key_file"`
	UseAgent bool   `yaml:"use_agent"`

	KnownHosts            string `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key"`

	// Transport is one of auto, sftp, scp or local.
	Transport string
	Timeout   time.Duration
}

type Options struct {
	RemoveOldFiles  bool   `yaml:"remove_old_files"`
	RemoveTempFiles bool   `yaml:"remove_temp_files"`
	PrintTimings    bool   `yaml:"print_timings"`
	Compression     string `yaml:"compression"`
	Workers         int    `yaml:"workers"`
}

type Source struct {
	Path        string
	Destination string
	Label       string
}

type Job struct {
	Name string

	Connection Connection
	Options    Options
	Sources    []Source

	IncludeTopDirs []string `yaml:"include_top_dirs"`
	ExcludeTopDirs []string `yaml:"exclude_top_dirs"`

	IncludeExtensions []string `yaml:"include_extensions"`
	ExcludeExtensions []string `yaml:"exclude_extensions"`

	SkipDirs        []string `yaml:"skip_dirs"`
	SkipDirItems    []string `yaml:"skip_dir_items"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// New returns a job with the default connection and options.
func New(name string) *Job {
	return &Job{
		Name: name,
		Connection: Connection{
			Port:      22,
			Transport: string(transport.ProtocolAuto),
			Timeout:   30 * time.Second,
		},
		Options: Options{
			RemoveOldFiles:  true,
			RemoveTempFiles: true,
			PrintTimings:    true,
			Compression:     string(ops.CompressionGzip),
		},
	}
}

// Parse decodes a job over the defaults and validates it.
func Parse(data []byte, name string) (*Job, error) {
	job := New(name)

	if err := yaml.Unmarshal(data, job); err != nil {
		return nil, &ErrInvalidJob{msg: fmt.Sprintf("failed to parse job %s: %s", name, err)}
	}
	if job.Name == "" {
		job.Name = name
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Load reads a job from a local file. The name defaults to the file name without its
// extension.
func Load(file string) (*Job, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	return Parse(data, name)
}

func (j *Job) Validate() error {
	invalid := func(format string, args ...any) error {
		return &ErrInvalidJob{msg: fmt.Sprintf("job %s: ", j.Name) + fmt.Sprintf(format, args...)}
	}

	protocol, err := transport.ParseProtocol(j.Connection.Transport)
	if err != nil {
		return invalid("%s", err)
	}
	if protocol != transport.ProtocolLocal {
		if j.Connection.Host == "" {
			return invalid("no host")
		}
		if j.Connection.User == "" {
			return invalid("no user")
		}
		if j.Connection.Port < 1 || j.Connection.Port > 65535 {
			return invalid("invalid port: %d", j.Connection.Port)
		}
	}
	if _, err := ops.ParseCompression(j.Options.Compression); err != nil {
		return invalid("%s", err)
	}

	if len(j.Sources) == 0 {
		return invalid("no sources")
	}
	for idx, source := range j.Sources {
		if source.Path == "" {
			return invalid("source %d has no path", idx)
		}
		if source.Destination == "" {
			return invalid("source %d has no destination", idx)
		}
	}

	if _, err := j.Filter(); err != nil {
		return invalid("%s", err)
	}
	return nil
}

func (j *Job) FilterOptions() ops.FilterOptions {
	return ops.FilterOptions{
		IncludeTopDirs:    j.IncludeTopDirs,
		ExcludeTopDirs:    j.ExcludeTopDirs,
		SkipDirs:          j.SkipDirs,
		SkipDirItems:      j.SkipDirItems,
		IncludeExtensions: j.IncludeExtensions,
		ExcludeExtensions: j.ExcludeExtensions,
		ExcludePatterns:   j.ExcludePatterns,
	}
}

func (j *Job) Filter() (*ops.Filter, error) {
	return ops.NewFilter(j.FilterOptions())
}

func (j *Job) EngineOptions() (engine.Options, error) {
	compression, err := ops.ParseCompression(j.Options.Compression)
	if err != nil {
		return engine.Options{}, err
	}

	return engine.Options{
		RemoveOldFiles:  j.Options.RemoveOldFiles,
		RemoveTempFiles: j.Options.RemoveTempFiles,
		PrintTimings:    j.Options.PrintTimings,
		Compression:     compression,
		Workers:         j.Options.Workers,
	}, nil
}

// TransportConfig builds the SSH settings, looking up the password in sec when the job
// refers to it by id.
func (j *Job) TransportConfig(sec *secrets.Secrets) (*transport.Config, error) {
	conn := j.Connection

	protocol, err := transport.ParseProtocol(conn.Transport)
	if err != nil {
		return nil, err
	}

	password := conn.Password
	if conn.PasswordId != "" {
		password, err = sec.Passphrase(conn.PasswordId)
		if err != nil {
			return nil, err
		}
	}

	return &transport.Config{
		Host:                  conn.Host,
		Port:                  conn.Port,
		User:                  conn.User,
		Password:              password,
		KeyFile:               conn.KeyFile,
		UseAgent:              conn.UseAgent,
		KnownHostsFile:        conn.KnownHosts,
		InsecureIgnoreHostKey: conn.InsecureIgnoreHostKey,
		Protocol:              protocol,
		Timeout:               conn.Timeout,
	}, nil
}
