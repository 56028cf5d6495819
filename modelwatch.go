package dataflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/syssam/dataflow/model"
)

// fieldSpec is the YAML shape of one field descriptor in a model
// definition file watched by WatchModels.
type fieldSpec struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Nullable   bool   `yaml:"nullable"`
	Default    any    `yaml:"default"`
	Unique     bool   `yaml:"unique"`
	Indexed    bool   `yaml:"indexed"`
	Size       int    `yaml:"size"`
	Scale      int    `yaml:"scale"`
	ForeignKey string `yaml:"foreign_key"` // "model.field"
}

// modelSpec is the YAML shape of one model definition file.
type modelSpec struct {
	Name        string        `yaml:"name"`
	TableName   string        `yaml:"table_name"`
	PrimaryKey  string        `yaml:"primary_key"`
	SoftDelete  bool          `yaml:"soft_delete"`
	MultiTenant bool          `yaml:"multi_tenant"`
	AuditLog    bool          `yaml:"audit_log"`
	Versioned   bool          `yaml:"versioned"`
	Fields      []fieldSpec   `yaml:"fields"`
}

// loadModelFile parses one YAML model definition into a *model.Model,
// reusing the same field-construction path (model.NewField/WithDefault)
// that programmatic registration uses, so a hot-reloaded model is held to
// the identical identifier and default-literal safety checks.
func loadModelFile(path string) (*model.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataflow: read model file %s: %w", path, err)
	}
	var spec modelSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("dataflow: parse model file %s: %w", path, err)
	}
	m := &model.Model{
		Name:        spec.Name,
		TableName:   spec.TableName,
		PrimaryKey:  spec.PrimaryKey,
		SoftDelete:  spec.SoftDelete,
		MultiTenant: spec.MultiTenant,
		AuditLog:    spec.AuditLog,
		Versioned:   spec.Versioned,
	}
	for _, fs := range spec.Fields {
		f, err := model.NewField(fs.Name, model.FieldType(fs.Type))
		if err != nil {
			return nil, fmt.Errorf("dataflow: model %s: %w", spec.Name, err)
		}
		f.Nullable, f.Unique, f.Indexed = fs.Nullable, fs.Unique, fs.Indexed
		f.Size, f.Scale = fs.Size, fs.Scale
		if fs.ForeignKey != "" {
			parts := strings.SplitN(fs.ForeignKey, ".", 2)
			if len(parts) == 2 {
				f.ForeignKey = &model.ForeignKeyRef{Model: parts[0], Field: parts[1]}
			}
		}
		if fs.Default != nil {
			if _, err := f.WithDefault(fs.Default); err != nil {
				return nil, fmt.Errorf("dataflow: model %s: %w", spec.Name, err)
			}
		}
		m.Fields = append(m.Fields, f)
	}
	return m, nil
}

// ModelWatcher watches a directory of YAML model definition files
// (*.yaml, *.yml) and re-registers a model with the owning Engine whenever
// its file is created or written, mirroring the watch-loop shape a
// code-generator's --watch mode uses to regenerate on source changes. It
// is dev-mode tooling: production deployments register models once at
// startup and never construct a ModelWatcher.
type ModelWatcher struct {
	engine  *Engine
	watcher *fsnotify.Watcher
	onError func(error)

	wg   sync.WaitGroup
	done chan struct{}
}

// WatchModels starts watching dir for model definition files, loading and
// registering (or re-registering, on change) each one against e. onError,
// if non-nil, receives load/parse failures that would otherwise only be
// observable by polling; a nil onError silently skips the bad file and
// keeps watching.
func (e *Engine) WatchModels(dir string, onError func(error)) (*ModelWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("dataflow: model watcher: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("dataflow: model watcher: read %s: %w", dir, err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("dataflow: model watcher: watch %s: %w", dir, err)
	}
	w := &ModelWatcher{engine: e, watcher: fw, onError: onError, done: make(chan struct{})}
	for _, ent := range entries {
		if ent.IsDir() || !isModelFile(ent.Name()) {
			continue
		}
		if err := w.reload(filepath.Join(dir, ent.Name())); err != nil {
			w.reportError(err)
		}
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func isModelFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func (w *ModelWatcher) reload(path string) error {
	m, err := loadModelFile(path)
	if err != nil {
		return err
	}
	if err := w.engine.models.Replace(m); err != nil {
		return err
	}
	w.engine.cat.Refresh()
	return nil
}

func (w *ModelWatcher) reportError(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

func (w *ModelWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isModelFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(ev.Name); err != nil {
				w.reportError(err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reportError(fmt.Errorf("dataflow: model watcher: %w", err))
		}
	}
}

// Close stops the watcher and releases its underlying fsnotify handle.
func (w *ModelWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
