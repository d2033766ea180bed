package pipelines

const DeploymentPipeline = "deployment"

func init() {
	register(Pipeline{
		Name: DeploymentPipeline,
		stages: []stage{
			{name: "hyperparameter_tuning", desc: "Tune hyperparameters for the deployed model."},
		},
	})
}
