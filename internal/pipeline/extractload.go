package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"dwpipe/internal/extractor"
	"dwpipe/internal/metrics"
	"dwpipe/internal/model"
	"dwpipe/internal/storage"
	"dwpipe/internal/workspace"
)

// Step names of an extract-load pipeline, in execution order.
const (
	StepCreateTempFolder = "create_temp_folder_for_extraction"
	StepExtract          = "extract_data_from_api"
	StepListFiles        = "list_extract_files"
	StepLoadFiles        = "load_extract_files"
	StepRemoveTempFolder = "remove_temp_folder_for_extraction"
)

// ExtractLoadConfig describes a pipeline that pulls one API endpoint into the
// sink's layer.
type ExtractLoadConfig struct {
	ID          string
	Description string
	Tags        []string
	// TempName is the suffix of the working folder, e.g. "coin_list".
	TempName string
	// Params are the static query parameters. Run parameters override them.
	Params url.Values
	// NewSource returns a fresh source per run; sources may keep pagination state.
	// It receives the effective query parameters of the run.
	NewSource func(params url.Values) extractor.Source
	// Extractor is applied to every run. Its Logger is replaced with the run logger.
	Extractor extractor.Options
	Sink      model.Sink
	Storage   storage.Opener
	// UploadConcurrency bounds parallel uploads; values < 1 mean 1.
	UploadConcurrency int
	Metrics           *metrics.Pipeline
}

// ExtractLoad builds the five-step pipeline: create a working folder, extract
// pages into it, list the files, upload them to <layer>/<source>/<surname>,
// and remove the folder whatever happened before.
func ExtractLoad(cfg ExtractLoadConfig) *Pipeline {
	el := &extractLoad{cfg: cfg}
	if cfg.NewSource != nil {
		src := cfg.NewSource(cfg.Params)
		el.folder = workspace.StoragePath(cfg.Sink.Layer, src.Name(), extractor.Surname(src))
	}

	return &Pipeline{
		ID:          cfg.ID,
		Description: cfg.Description,
		Tags:        cfg.Tags,
		Sink:        cfg.Sink,
		Steps: []Step{
			{Name: StepCreateTempFolder, Run: el.createTempFolder},
			{Name: StepExtract, Run: el.extract},
			{Name: StepListFiles, Run: el.listFiles},
			{Name: StepLoadFiles, Run: el.loadFiles},
			{Name: StepRemoveTempFolder, Rule: AllDone, Run: el.removeTempFolder},
		},
	}
}

type extractLoad struct {
	cfg    ExtractLoadConfig
	folder string
}

func (el *extractLoad) createTempFolder(_ context.Context, st *State) error {
	dir, err := workspace.CreateTemp(st.Log, el.cfg.TempName)
	if err != nil {
		return err
	}
	st.WorkDir = dir
	return nil
}

func (el *extractLoad) extract(ctx context.Context, st *State) error {
	if el.cfg.NewSource == nil {
		return errors.New("no source configured")
	}
	opts := el.cfg.Extractor
	opts.Logger = st.Log
	if opts.Metrics == nil {
		opts.Metrics = el.cfg.Metrics
	}

	params := overrideParams(el.cfg.Params, st.Params)
	res, err := extractor.New(el.cfg.NewSource(params), opts).Run(ctx, extractor.Request{
		Params: params,
		LoadTo: st.WorkDir,
	})
	if err != nil {
		return err
	}
	st.Log.Info("extract_finished", "pages", res.Pages)
	return nil
}

func (el *extractLoad) listFiles(_ context.Context, st *State) error {
	files, err := workspace.List(st.WorkDir)
	if err != nil {
		return err
	}
	st.Files = files
	st.Log.Info("extract_files_listed", "files", files)
	return nil
}

func (el *extractLoad) loadFiles(ctx context.Context, st *State) error {
	if el.cfg.Storage == nil {
		return errors.New("no storage configured")
	}
	store, err := el.cfg.Storage.Open(ctx, el.cfg.Sink.Backend, el.cfg.Sink.Container)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	limit := el.cfg.UploadConcurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	for _, name := range st.Files {
		local := filepath.Join(st.WorkDir, name)
		g.Go(func() error {
			st.Log.Info("upload_started", "local_path", local, "storage_path", el.folder)
			info, err := store.UploadFile(gctx, local, el.folder)
			if err != nil {
				return err
			}
			el.cfg.Metrics.FileUploaded(store.Backend(), info.Size)
			st.Log.Info("upload_finished", "key", info.Key, "size", info.Size)

			mu.Lock()
			st.Uploaded = append(st.Uploaded, model.RunFile{
				RunID:      st.RunID,
				Backend:    store.Backend(),
				Container:  store.Container(),
				Key:        info.Key,
				Size:       info.Size,
				UploadedAt: info.LastModified,
			})
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	sort.Slice(st.Uploaded, func(i, j int) bool { return st.Uploaded[i].Key < st.Uploaded[j].Key })
	return err
}

func (el *extractLoad) removeTempFolder(_ context.Context, st *State) error {
	if st.WorkDir == "" {
		return nil
	}
	workspace.Delete(st.Log, st.WorkDir)
	return nil
}

func overrideParams(static, override url.Values) url.Values {
	out := url.Values{}
	for k, v := range static {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range override {
		out[k] = append([]string(nil), v...)
	}
	return out
}
