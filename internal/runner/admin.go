package runner

import (
	"context"
	"errors"
	"strconv"
	"time"

	"seabench/benchmark-engine/internal/cluster"
	"seabench/benchmark-engine/pkg/logger"
	"seabench/benchmark-engine/pkg/types"

	"github.com/ohler55/ojg/oj"
	"github.com/valyala/fasthttp"
)

// CreateIndexRunner creates one or more indices.
//
// Either index (with an optional body) or indices must be provided.
// Entries of indices may be plain names or objects with index and body
// keys.
type CreateIndexRunner struct{}

func (r *CreateIndexRunner) Name() string { return "create-index" }

func (r *CreateIndexRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	ctx, cancel, err := applyRequestTimeout(ctx, params)
	if err != nil {
		return nil, err
	}
	defer cancel()

	indices, err := indexDefinitions(params, r.Name())
	if err != nil {
		return nil, err
	}
	queryParams := requestParams(params)

	for _, definition := range indices {
		body, err := marshalBody(definition.body)
		if err != nil {
			return nil, err
		}
		rsp, err := client.Do(ctx, &cluster.Request{
			Method: fasthttp.MethodPut,
			Path:   "/" + definition.name,
			Params: queryParams,
			Body:   body,
		})
		if err != nil {
			return nil, err
		}
		if rsp.IsError() {
			return nil, newHTTPError(rsp)
		}
	}

	return &Result{Weight: float64(len(indices)), Unit: "ops", Success: true}, nil
}

type indexDefinition struct {
	name string
	body any
}

func indexDefinitions(params map[string]any, op string) ([]indexDefinition, error) {
	if list, ok := params["indices"].([]any); ok {
		definitions := make([]indexDefinition, 0, len(list))
		for _, entry := range list {
			switch e := entry.(type) {
			case string:
				definitions = append(definitions, indexDefinition{name: e})
			case map[string]any:
				name := stringParam(e, "index", stringParam(e, "name", ""))
				if name == "" {
					return nil, types.NewDataError("each entry of 'indices' for operation '%s' needs an index name", op)
				}
				definitions = append(definitions, indexDefinition{name: name, body: e["body"]})
			default:
				return nil, types.NewDataError("entry of 'indices' for operation '%s' must be a name or an object, got %T", op, entry)
			}
		}
		if len(definitions) == 0 {
			return nil, types.NewDataError("parameter 'indices' of operation '%s' must not be empty", op)
		}
		return definitions, nil
	}

	name, err := MandatoryString(params, "index", op)
	if err != nil {
		return nil, err
	}
	return []indexDefinition{{name: name, body: params["body"]}}, nil
}

// DeleteIndexRunner deletes indices, optionally only when they exist.
type DeleteIndexRunner struct{}

func (r *DeleteIndexRunner) Name() string { return "delete-index" }

func (r *DeleteIndexRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	ctx, cancel, err := applyRequestTimeout(ctx, params)
	if err != nil {
		return nil, err
	}
	defer cancel()

	names, err := indexNames(params, r.Name())
	if err != nil {
		return nil, err
	}
	onlyIfExists := boolParam(params, "only-if-exists", false)
	queryParams := requestParams(params)

	log := logger.L().Sugar()
	ops := 0
	for _, name := range names {
		if onlyIfExists {
			head, err := client.Do(ctx, &cluster.Request{Method: fasthttp.MethodHead, Path: "/" + name})
			if err != nil {
				return nil, err
			}
			if head.StatusCode == fasthttp.StatusNotFound {
				continue
			}
			log.Debugf("Index [%s] already exists, deleting it", name)
		}

		rsp, err := client.Do(ctx, &cluster.Request{
			Method: fasthttp.MethodDelete,
			Path:   "/" + name,
			Params: queryParams,
		})
		if err != nil {
			return nil, err
		}
		if rsp.IsError() {
			return nil, newHTTPError(rsp)
		}
		ops++
	}

	return &Result{Weight: float64(ops), Unit: "ops", Success: true}, nil
}

func indexNames(params map[string]any, op string) ([]string, error) {
	if list, ok := params["indices"].([]any); ok {
		names := make([]string, 0, len(list))
		for _, entry := range list {
			name, ok := asString(entry)
			if !ok {
				return nil, types.NewDataError("entry of 'indices' for operation '%s' must be a string, got %T", op, entry)
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			return nil, types.NewDataError("parameter 'indices' of operation '%s' must not be empty", op)
		}
		return names, nil
	}

	name, err := MandatoryString(params, "index", op)
	if err != nil {
		return nil, err
	}
	return []string{name}, nil
}

// RefreshRunner refreshes an index, defaulting to all of them.
type RefreshRunner struct{}

func (r *RefreshRunner) Name() string { return "refresh" }

func (r *RefreshRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	index := stringParam(params, "index", "_all")

	rsp, err := client.Do(ctx, &cluster.Request{
		Method: fasthttp.MethodPost,
		Path:   "/" + index + "/_refresh",
	})
	if err != nil {
		return nil, err
	}
	if rsp.IsError() {
		return nil, newHTTPError(rsp)
	}
	return nil, nil
}

const (
	defaultForceMergePoll = 10 * time.Second
	forceMergeTasksPath   = "/_tasks"
)

// ForceMergeRunner force-merges index segments. In polling mode a request
// timeout is tolerated and the runner polls the task API until no force
// merge tasks remain, which lets merges run longer than any sane request
// timeout.
type ForceMergeRunner struct{}

func (r *ForceMergeRunner) Name() string { return "force-merge" }

func (r *ForceMergeRunner) Invoke(ctx context.Context, client Transport, params map[string]any) (*Result, error) {
	queryParams := requestParams(params)
	if segments, ok := asInt(params["max-num-segments"]); ok {
		if queryParams == nil {
			queryParams = make(map[string]string, 1)
		}
		queryParams["max_num_segments"] = strconv.FormatInt(segments, 10)
	}

	path := "/_forcemerge"
	if index := stringParam(params, "index", ""); index != "" {
		path = "/" + index + "/_forcemerge"
	}

	request := &cluster.Request{Method: fasthttp.MethodPost, Path: path, Params: queryParams}

	if stringParam(params, "mode", "") != "polling" {
		rsp, err := client.Do(ctx, request)
		if err != nil {
			return nil, err
		}
		if rsp.IsError() {
			return nil, newHTTPError(rsp)
		}
		return nil, nil
	}

	pollPeriod, err := durationParam(params, "poll-period", defaultForceMergePoll)
	if err != nil {
		return nil, err
	}

	rsp, err := client.Do(ctx, request)
	switch {
	case err == nil && rsp.IsError():
		return nil, newHTTPError(rsp)
	case err == nil:
		return nil, nil
	case !errors.Is(err, fasthttp.ErrTimeout):
		return nil, err
	}

	// The merge request timed out but the merge keeps running on the
	// cluster; poll until its task disappears.
	for {
		if err := sleepContext(ctx, pollPeriod); err != nil {
			return nil, err
		}
		done, err := r.mergeTasksDrained(ctx, client)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, nil
		}
	}
}

func (r *ForceMergeRunner) mergeTasksDrained(ctx context.Context, client Transport) (bool, error) {
	rsp, err := client.Do(ctx, &cluster.Request{
		Method: fasthttp.MethodGet,
		Path:   forceMergeTasksPath,
		Params: map[string]string{"actions": "indices:admin/forcemerge"},
	})
	if err != nil {
		return false, err
	}
	if rsp.IsError() {
		return false, newHTTPError(rsp)
	}

	doc, err := oj.Parse(rsp.Body)
	if err != nil {
		return false, types.NewDataError("failed to parse task list response: %v", err)
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return false, types.NewDataError("unexpected task list response of type %T", doc)
	}
	nodes, _ := root["nodes"].(map[string]any)
	return len(nodes) == 0, nil
}
