package output

import (
	"sync"
	"time"

	"seabench/benchmark-engine/pkg/metrics"
)

const (
	// sendBatchToOutputsRate is the batching interval towards outputs.
	sendBatchToOutputsRate = 50 * time.Millisecond
	// defaultSamplesChannelSize bounds the sample channel.
	defaultSamplesChannelSize = 1000
)

// Manager fans the sample stream out to a set of outputs.
type Manager struct {
	outputs []Output
	logger  Logger
	mu      sync.RWMutex
}

// NewManager creates a manager over the given outputs.
func NewManager(outputs []Output, logger Logger) *Manager {
	return &Manager{
		outputs: outputs,
		logger:  logger,
	}
}

// Start starts all outputs and begins draining samplesChan into them in
// batches. It returns a wait function that blocks until the channel is
// drained (close samplesChan first) and a finish function that waits and
// then stops the outputs with the final run status.
func (m *Manager) Start(samplesChan chan metrics.SampleContainer) (wait func(), finish func(error), err error) {
	if err := m.startOutputs(); err != nil {
		return nil, nil, err
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)

	sendToOutputs := func(sampleContainers []metrics.SampleContainer) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, out := range m.outputs {
			out.AddMetricSamples(sampleContainers)
		}
	}

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(sendBatchToOutputsRate)
		defer ticker.Stop()

		buffer := make([]metrics.SampleContainer, 0, cap(samplesChan))
		for {
			select {
			case sampleContainer, ok := <-samplesChan:
				if !ok {
					if len(buffer) > 0 {
						sendToOutputs(buffer)
					}
					return
				}
				buffer = append(buffer, sampleContainer)
			case <-ticker.C:
				if len(buffer) > 0 {
					sendToOutputs(buffer)
					buffer = make([]metrics.SampleContainer, 0, cap(buffer))
				}
			}
		}
	}()

	wait = wg.Wait
	finish = func(testErr error) {
		wait()
		m.stopOutputs(testErr)
	}

	return wait, finish, nil
}

func (m *Manager) startOutputs() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, out := range m.outputs {
		if err := out.Start(); err != nil {
			// roll back the ones already started
			for j := 0; j < i; j++ {
				_ = m.outputs[j].Stop()
			}
			return err
		}
		if m.logger != nil {
			m.logger.Debugf("output %s started", out.Description())
		}
	}
	return nil
}

func (m *Manager) stopOutputs(testErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := RunStatus{
		Status: "completed",
	}
	if testErr != nil {
		status.Status = "failed"
		status.Error = testErr
	}

	for _, out := range m.outputs {
		out.SetRunStatus(status)
		if err := out.Stop(); err != nil && m.logger != nil {
			m.logger.Errorf("stopping output %s failed: %v", out.Description(), err)
		}
	}
}

// AddOutput appends an output. Only safe before Start.
func (m *Manager) AddOutput(out Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, out)
}

// GetOutputs returns a copy of the managed outputs.
func (m *Manager) GetOutputs() []Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Output, len(m.outputs))
	copy(result, m.outputs)
	return result
}

// NewSamplesChannel creates a buffered sample channel.
func NewSamplesChannel(size int) chan metrics.SampleContainer {
	if size <= 0 {
		size = defaultSamplesChannelSize
	}
	return make(chan metrics.SampleContainer, size)
}
