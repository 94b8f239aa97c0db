package trafficsim

//
// Traffic generation
//

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// WebsiteList is the JSON list of remote websites.
type WebsiteList struct {
	// HTTPSites contains the host names of the websites.
	HTTPSites []string `json:"http_sites"`
}

// RemoteFile is a file we can download using FTP.
type RemoteFile struct {
	// BaseURL is the FTP server host name.
	BaseURL string `json:"base_url"`

	// FilePath is the path of the file on the server.
	FilePath string `json:"file_path"`
}

// FileList is the JSON list of remote files.
type FileList struct {
	// FTPFiles contains the remote files.
	FTPFiles []RemoteFile `json:"ftp_files"`
}

// LoadWebsiteList reads a [WebsiteList] from a JSON file.
func LoadWebsiteList(path string) (*WebsiteList, error) {
	var wl WebsiteList
	if err := loadJSON(path, &wl); err != nil {
		return nil, err
	}
	return &wl, nil
}

// LoadFileList reads a [FileList] from a JSON file.
func LoadFileList(path string) (*FileList, error) {
	var fl FileList
	if err := loadJSON(path, &fl); err != nil {
		return nil, err
	}
	return &fl, nil
}

// loadJSON unmarshals the content of a JSON file.
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("trafficsim: %s: %w", path, err)
	}
	return nil
}

// HTTPURL returns the HTTPS URL of the given host.
func HTTPURL(host string) string {
	u := &url.URL{Scheme: "https", Host: host}
	return u.String()
}

// FTPURL returns the FTP URL of the given file on the given host.
func FTPURL(host, filepath string) string {
	if filepath != "" && !strings.HasPrefix(filepath, "/") {
		filepath = "/" + filepath
	}
	u := &url.URL{Scheme: "ftp", Host: host, Path: filepath}
	return u.String()
}

// curlCommand returns the command downloading the given URL.
func curlCommand(URL string) string {
	return fmt.Sprintf("curl -s -o /dev/null %s", URL)
}

// HTTPRequest fetches the website at the given host name from the
// given [Host] and discards the response body.
func HTTPRequest(logger Logger, host Host, website string) error {
	URL := HTTPURL(website)
	logger.Debugf("trafficsim: starting HTTPS request from %s to %s", host.Name(), URL)
	return runCurl(host, URL)
}

// FTPRequest downloads the given file from the given FTP server
// from the given [Host] and discards it.
func FTPRequest(logger Logger, host Host, server, filepath string) error {
	URL := FTPURL(server, filepath)
	logger.Debugf("trafficsim: starting FTP request from %s to %s", host.Name(), URL)
	return runCurl(host, URL)
}

// runCurl runs curl on the given host.
func runCurl(host Host, URL string) error {
	output, err := host.Cmd(curlCommand(URL))
	if err != nil {
		if output = strings.TrimSpace(output); output != "" {
			return fmt.Errorf("%s: %w: %s", URL, err, output)
		}
		return fmt.Errorf("%s: %w", URL, err)
	}
	return nil
}

// ErrInvalidTaskArgs indicates that a request task received the wrong arguments.
var ErrInvalidTaskArgs = errors.New("trafficsim: invalid task arguments")

// httpRequestTask returns a [TaskFunc] calling [HTTPRequest] with the
// (Host, string) positional arguments.
func httpRequestTask(logger Logger) TaskFunc {
	return func(args []any, kwargs map[string]any) error {
		if len(args) != 2 {
			return ErrInvalidTaskArgs
		}
		host, good := args[0].(Host)
		if !good {
			return ErrInvalidTaskArgs
		}
		website, good := args[1].(string)
		if !good {
			return ErrInvalidTaskArgs
		}
		return HTTPRequest(logger, host, website)
	}
}

// ftpRequestTask returns a [TaskFunc] calling [FTPRequest] with the
// (Host, string, string) positional arguments.
func ftpRequestTask(logger Logger) TaskFunc {
	return func(args []any, kwargs map[string]any) error {
		if len(args) != 3 {
			return ErrInvalidTaskArgs
		}
		host, good := args[0].(Host)
		if !good {
			return ErrInvalidTaskArgs
		}
		server, good := args[1].(string)
		if !good {
			return ErrInvalidTaskArgs
		}
		filepath, good := args[2].(string)
		if !good {
			return ErrInvalidTaskArgs
		}
		return FTPRequest(logger, host, server, filepath)
	}
}

// PlannedRequests is the number of requests to issue at a given time.
type PlannedRequests struct {
	// SimTime is the simulation time in seconds.
	SimTime float64

	// Count is the number of requests.
	Count int
}

// TrafficGeneratorConfig contains config for creating a [TrafficGenerator].
// Make sure you initialize all the fields marked as MANDATORY.
type TrafficGeneratorConfig struct {
	// Clients contains the MANDATORY hosts issuing requests.
	Clients []Host

	// Files is the OPTIONAL list of remote FTP files.
	Files *FileList

	// Logger is the MANDATORY logger.
	Logger Logger

	// Rand is the OPTIONAL random number generator.
	Rand *rand.Rand

	// Servers contains the OPTIONAL local servers, each of which is
	// serving HTTPS and serving "file_from_<name>.txt" using FTP.
	Servers []Host

	// Websites is the OPTIONAL list of remote websites.
	Websites *WebsiteList
}

// TrafficGenerator creates random HTTP and FTP request tasks, each of
// which either targets a local server or a remote endpoint. The zero
// value is invalid; use [NewTrafficGenerator] to instantiate.
type TrafficGenerator struct {
	clients  []Host
	files    []RemoteFile
	logger   Logger
	rnd      *rand.Rand
	servers  []Host
	websites []string
}

// ErrNoClients indicates that a [TrafficGenerator] has no client hosts.
var ErrNoClients = errors.New("trafficsim: no client hosts")

// NewTrafficGenerator creates a new [TrafficGenerator].
func NewTrafficGenerator(config *TrafficGeneratorConfig) (*TrafficGenerator, error) {
	if len(config.Clients) <= 0 {
		return nil, ErrNoClients
	}
	tg := &TrafficGenerator{
		clients: append([]Host{}, config.Clients...),
		logger:  config.Logger,
		rnd:     config.Rand,
		servers: append([]Host{}, config.Servers...),
	}
	if config.Files != nil {
		tg.files = append(tg.files, config.Files.FTPFiles...)
	}
	if config.Websites != nil {
		tg.websites = append(tg.websites, config.Websites.HTTPSites...)
	}
	if tg.rnd == nil {
		tg.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return tg, nil
}

// Generate returns a new [TaskQueue] containing Count random request
// tasks at SimTime for each entry of the plan. The generator randomly
// chooses between local and remote traffic and between HTTP and FTP,
// and only uses the targets it has been configured with.
func (tg *TrafficGenerator) Generate(plan []PlannedRequests) *TaskQueue {
	queue := NewTaskQueue(tg.logger)
	for _, entry := range plan {
		for idx := 0; idx < entry.Count; idx++ {
			task, good := tg.generate(entry.SimTime)
			if !good {
				tg.logger.Warn("trafficsim: TrafficGenerator: no local or remote targets")
				return queue
			}
			queue.Push(task)
		}
	}
	return queue
}

// generate creates a single random task.
func (tg *TrafficGenerator) generate(t float64) (Task, bool) {
	hasLocal := len(tg.servers) > 0
	hasRemote := len(tg.websites) > 0 || len(tg.files) > 0
	switch {
	case hasLocal && hasRemote:
		if tg.rnd.Intn(2) == 0 {
			return tg.generateLocal(t), true
		}
		return tg.generateRemote(t), true
	case hasLocal:
		return tg.generateLocal(t), true
	case hasRemote:
		return tg.generateRemote(t), true
	default:
		return Task{}, false
	}
}

// generateLocal creates a random request from a client to a local server.
func (tg *TrafficGenerator) generateLocal(t float64) Task {
	client := tg.clients[tg.rnd.Intn(len(tg.clients))]
	server := tg.servers[tg.rnd.Intn(len(tg.servers))]
	if tg.rnd.Intn(2) == 0 {
		return NewTask(
			t,
			httpRequestTask(tg.logger),
			fmt.Sprintf("local_http_request-%s-%s", client.Name(), server.Name()),
			[]any{client, server.IP()},
			nil,
		)
	}
	return NewTask(
		t,
		ftpRequestTask(tg.logger),
		fmt.Sprintf("local_ftp_request-%s-%s", client.Name(), server.Name()),
		[]any{client, server.IP(), fmt.Sprintf("file_from_%s.txt", server.Name())},
		nil,
	)
}

// generateRemote creates a random request from a client to a remote endpoint.
func (tg *TrafficGenerator) generateRemote(t float64) Task {
	client := tg.clients[tg.rnd.Intn(len(tg.clients))]
	useHTTP := len(tg.files) <= 0 || (len(tg.websites) > 0 && tg.rnd.Intn(2) == 0)
	if useHTTP {
		website := tg.websites[tg.rnd.Intn(len(tg.websites))]
		return NewTask(
			t,
			httpRequestTask(tg.logger),
			fmt.Sprintf("remote_http_request-%s-%s", client.Name(), website),
			[]any{client, website},
			nil,
		)
	}
	file := tg.files[tg.rnd.Intn(len(tg.files))]
	return NewTask(
		t,
		ftpRequestTask(tg.logger),
		fmt.Sprintf("remote_ftp_request-%s-%s/%s", client.Name(), file.BaseURL, file.FilePath),
		[]any{client, file.BaseURL, file.FilePath},
		nil,
	)
}

// PeriodicTrafficGenerator repeatedly issues requests from hosts for a
// bounded amount of time using a [PeriodicScheduler]. The zero value is
// invalid; use [NewPeriodicTrafficGenerator] to instantiate.
type PeriodicTrafficGenerator struct {
	logger    Logger
	mu        sync.Mutex
	rnd       *rand.Rand
	scheduler *PeriodicScheduler
}

// NewPeriodicTrafficGenerator creates a new [PeriodicTrafficGenerator]. The
// rnd argument is OPTIONAL and seeds the generator of each request task.
func NewPeriodicTrafficGenerator(logger Logger, rnd *rand.Rand) *PeriodicTrafficGenerator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &PeriodicTrafficGenerator{
		logger:    logger,
		mu:        sync.Mutex{},
		rnd:       rnd,
		scheduler: NewPeriodicScheduler(logger),
	}
}

// HTTPRequest starts repeatedly fetching the given website from the given
// host for the given duration.
func (ptg *PeriodicTrafficGenerator) HTTPRequest(host Host, website string, duration time.Duration) *PeriodicTask {
	ptg.logger.Infof("trafficsim: starting HTTPS requests from %s to %s", host.Name(), HTTPURL(website))
	return ptg.scheduler.StartTask(&PeriodicTaskConfig{
		Args:     []any{host, website},
		Duration: duration,
		Func:     httpRequestTask(ptg.logger),
		Name:     "http_request",
		Rand:     ptg.newRand(),
	})
}

// FTPRequest starts repeatedly downloading the given file from the given
// host for the given duration.
func (ptg *PeriodicTrafficGenerator) FTPRequest(host Host, server, filepath string, duration time.Duration) *PeriodicTask {
	ptg.logger.Infof("trafficsim: starting FTP requests from %s to %s", host.Name(), FTPURL(server, filepath))
	return ptg.scheduler.StartTask(&PeriodicTaskConfig{
		Args:     []any{host, server, filepath},
		Duration: duration,
		Func:     ftpRequestTask(ptg.logger),
		Name:     "ftp_request",
		Rand:     ptg.newRand(),
	})
}

// WaitForCompletion waits for all the started request tasks to finish.
func (ptg *PeriodicTrafficGenerator) WaitForCompletion() {
	ptg.scheduler.JoinTasks()
}

// Stop interrupts all the started request tasks.
func (ptg *PeriodicTrafficGenerator) Stop() {
	ptg.scheduler.StopTasks()
}

// newRand returns a private random number generator for a task.
func (ptg *PeriodicTrafficGenerator) newRand() *rand.Rand {
	defer ptg.mu.Unlock()
	ptg.mu.Lock()
	return rand.New(rand.NewSource(ptg.rnd.Int63()))
}
