// Package influxdb pushes metric samples to InfluxDB over the line protocol.
// Both the 1.x write endpoint and the 2.x token-authenticated API are
// supported so a run can feed Grafana dashboards from either generation.
package influxdb

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"seabench/benchmark-engine/pkg/metrics"
	"seabench/benchmark-engine/pkg/output"
)

func init() {
	output.Register("influxdb", New)
}

// Config holds InfluxDB connection settings.
type Config struct {
	// URL is the base address, e.g. http://host:8086.
	URL string
	// Token authenticates against InfluxDB 2.x.
	Token string
	// Organization is the InfluxDB 2.x organization.
	Organization string
	// Bucket is the InfluxDB 2.x bucket.
	Bucket string
	// Database is the InfluxDB 1.x database name.
	Database string
	// Precision is the timestamp precision sent with writes.
	Precision string
	// PushInterval is how often buffered lines are flushed.
	PushInterval time.Duration
	// BatchSize forces a flush once this many samples are buffered.
	BatchSize int
	// Tags are attached to every written point.
	Tags map[string]string
}

// Output buffers samples as line protocol and pushes them periodically.
type Output struct {
	params    output.Params
	config    Config
	client    *http.Client
	buffer    *bytes.Buffer
	count     int
	mu        sync.Mutex
	runStatus output.RunStatus
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates an InfluxDB output from the config argument.
func New(params output.Params) (output.Output, error) {
	config, err := parseConfig(params.ConfigArgument)
	if err != nil {
		return nil, err
	}

	if params.Tags != nil {
		if config.Tags == nil {
			config.Tags = make(map[string]string)
		}
		for k, v := range params.Tags {
			config.Tags[k] = v
		}
	}

	return &Output{
		params: params,
		config: config,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		buffer: &bytes.Buffer{},
		stopCh: make(chan struct{}),
	}, nil
}

// parseConfig parses the config argument. Accepted forms:
//
//	influxdb=http://host:8086?db=benchmarks
//	influxdb=http://host:8086?token=xxx&org=myorg&bucket=benchmarks
func parseConfig(arg string) (Config, error) {
	config := Config{
		Precision:    "ms",
		PushInterval: time.Second,
		BatchSize:    1000,
	}

	if arg == "" {
		return config, fmt.Errorf("influxdb URL must not be empty")
	}

	u, err := url.Parse(arg)
	if err != nil {
		return config, fmt.Errorf("failed to parse influxdb URL: %w", err)
	}

	config.URL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	q := u.Query()
	if db := q.Get("db"); db != "" {
		config.Database = db
	}
	if token := q.Get("token"); token != "" {
		config.Token = token
	}
	if org := q.Get("org"); org != "" {
		config.Organization = org
	}
	if bucket := q.Get("bucket"); bucket != "" {
		config.Bucket = bucket
	}

	return config, nil
}

// Description identifies the output and its target.
func (o *Output) Description() string {
	return fmt.Sprintf("influxdb (%s)", o.config.URL)
}

// Start launches the periodic push loop.
func (o *Output) Start() error {
	o.wg.Add(1)
	go o.pushLoop()
	return nil
}

// Stop halts the push loop and flushes any remaining lines.
func (o *Output) Stop() error {
	close(o.stopCh)
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.buffer.Len() > 0 {
		return o.flush()
	}
	return nil
}

func (o *Output) pushLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.config.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.mu.Lock()
			if o.buffer.Len() > 0 {
				if err := o.flush(); err != nil && o.params.Logger != nil {
					o.params.Logger.Errorf("failed to push to influxdb: %v", err)
				}
			}
			o.mu.Unlock()
		}
	}
}

// AddMetricSamples appends samples to the buffer, flushing at BatchSize.
func (o *Output) AddMetricSamples(containers []metrics.SampleContainer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			o.writeSample(sample)
			o.count++

			if o.count >= o.config.BatchSize {
				if err := o.flush(); err != nil && o.params.Logger != nil {
					o.params.Logger.Errorf("failed to push to influxdb: %v", err)
				}
			}
		}
	}
}

// writeSample appends one sample to the buffer in line protocol.
func (o *Output) writeSample(sample metrics.Sample) {
	measurement := sample.Metric.Name

	var tags []string
	for k, v := range o.config.Tags {
		tags = append(tags, fmt.Sprintf("%s=%s", escapeTag(k), escapeTag(v)))
	}
	for k, v := range sample.Tags {
		tags = append(tags, fmt.Sprintf("%s=%s", escapeTag(k), escapeTag(v)))
	}

	var line string
	if len(tags) > 0 {
		line = fmt.Sprintf("%s,%s value=%f %d\n",
			measurement,
			strings.Join(tags, ","),
			sample.Value,
			sample.Time.UnixMilli())
	} else {
		line = fmt.Sprintf("%s value=%f %d\n",
			measurement,
			sample.Value,
			sample.Time.UnixMilli())
	}

	o.buffer.WriteString(line)
}

// flush posts buffered lines to the write endpoint. Callers hold o.mu.
func (o *Output) flush() error {
	if o.buffer.Len() == 0 {
		return nil
	}

	data := o.buffer.Bytes()
	o.buffer.Reset()
	o.count = 0

	var reqURL string
	if o.config.Token != "" {
		reqURL = fmt.Sprintf("%s/api/v2/write?org=%s&bucket=%s&precision=%s",
			o.config.URL, o.config.Organization, o.config.Bucket, o.config.Precision)
	} else {
		reqURL = fmt.Sprintf("%s/write?db=%s&precision=%s",
			o.config.URL, o.config.Database, o.config.Precision)
	}

	req, err := http.NewRequest("POST", reqURL, bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if o.config.Token != "" {
		req.Header.Set("Authorization", "Token "+o.config.Token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("influxdb returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// SetRunStatus records the final run outcome.
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}

// escapeTag escapes line protocol special characters in tag keys and values.
func escapeTag(s string) string {
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, " ", "\\ ")
	return s
}
