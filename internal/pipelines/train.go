package pipelines

import (
	"github.com/animus-labs/mlpipe/internal/config"
	"github.com/animus-labs/mlpipe/internal/domain"
	"github.com/animus-labs/mlpipe/internal/graph"
)

const TrainPipeline = "train_pipeline"

var dataInputs = []domain.InputSpec{
	{Name: "files", Type: domain.TypeList},
	{Name: "input_path", Type: domain.TypeString},
	{Name: "pipeline_config", Type: domain.TypeStruct},
}

func withInputs(extra ...domain.InputSpec) []domain.InputSpec {
	return append(append([]domain.InputSpec(nil), dataInputs...), extra...)
}

// dataArgs binds the training files and the given data layer.
func dataArgs(layer string) func(config.Config) []graph.NodeOption {
	return func(cfg config.Config) []graph.NodeOption {
		return []graph.NodeOption{
			graph.WithArgument("files", []string{"X_train"}),
			graph.WithArgument("input_path", cfg.Layer(layer)),
			graph.WithArgument("pipeline_config", cfg.Values()),
		}
	}
}

func init() {
	modelOut := domain.OutputSpec{Name: "model", Type: domain.TypeModel}
	modelIn := domain.InputSpec{Name: "model", Type: domain.TypeModel}

	register(Pipeline{
		Name: TrainPipeline,
		stages: []stage{
			{name: "data_fetching", desc: "Fetch raw training data.", inputs: withInputs(), args: dataArgs(config.LayerRaw)},
			{name: "processing", desc: "Clean and type raw data.", inputs: withInputs(), args: dataArgs(config.LayerPrimary)},
			{name: "features", desc: "Engineer features.", inputs: withInputs(), args: dataArgs(config.LayerProcessing)},
			{name: "feature_selection", desc: "Select model features.", inputs: withInputs(), args: dataArgs(config.LayerFeatures)},
			{name: "hyperparameter_tuning", desc: "Search model hyperparameters.", inputs: withInputs(), args: dataArgs(config.LayerScoring)},
			{
				name:    "training",
				desc:    "Fit the model.",
				inputs:  withInputs(),
				outputs: []domain.OutputSpec{modelOut},
				args:    dataArgs(config.LayerScoring),
			},
			{
				name:    "evaluation",
				desc:    "Score the trained model.",
				inputs:  withInputs(modelIn),
				outputs: []domain.OutputSpec{{Name: "metrics", Type: domain.TypeMetrics}},
				args:    dataArgs(config.LayerScoring),
			},
			{name: "deployment", desc: "Deploy the trained model.", inputs: withInputs(modelIn), args: dataArgs(config.LayerScoring)},
		},
		wire: func(b *graph.Builder) error {
			steps := []struct {
				down graph.NodeID
				up   graph.NodeID
			}{
				{"processing", "data_fetching"},
				{"features", "processing"},
				{"feature_selection", "features"},
				{"hyperparameter_tuning", "feature_selection"},
				{"training", "feature_selection"},
			}
			for _, s := range steps {
				if err := b.After(s.down, s.up); err != nil {
					return err
				}
			}
			model := &domain.Binding{Output: "model", Input: "model"}
			if err := b.AddEdge("training", "evaluation", model); err != nil {
				return err
			}
			if err := b.AddEdge("training", "deployment", model); err != nil {
				return err
			}
			return b.After("deployment", "evaluation")
		},
	})
}
