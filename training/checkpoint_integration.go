package training

import (
	"fmt"
	"path/filepath"

	"github.com/tsawler/go-mmsa/checkpoints"
	"github.com/tsawler/go-mmsa/optimizer"
	"github.com/tsawler/go-mmsa/tensor"
)

// PretrainedPrefix is stripped from pretrained parameter names before merging.
const PretrainedPrefix = "Model."

// CheckpointConfig configures checkpoint locations
type CheckpointConfig struct {
	SaveDirectory  string // Directory for per-epoch checkpoints
	BestPath       string // Fixed path of the best checkpoint
	PretrainedPath string // Defaults to <SaveDirectory>/pretrained-<Dataset>.pth
	Dataset        string
	Description    string
}

// DefaultCheckpointConfig returns the layout used when nothing is configured
func DefaultCheckpointConfig(dataset string) CheckpointConfig {
	return CheckpointConfig{
		SaveDirectory: "./checkpoints",
		BestPath:      "./checkpoints/best.pth",
		Dataset:       dataset,
	}
}

// CheckpointManager handles checkpoint saving and loading for the controller.
// Files are overwritten on the next write and never deleted.
type CheckpointManager struct {
	config CheckpointConfig
}

// NewCheckpointManager creates a new checkpoint manager
func NewCheckpointManager(config CheckpointConfig) *CheckpointManager {
	return &CheckpointManager{config: config}
}

// EpochPath is <dir>/<epoch>.pth.
func (cm *CheckpointManager) EpochPath(epoch int) string {
	return filepath.Join(cm.config.SaveDirectory, fmt.Sprintf("%d.pth", epoch))
}

// BestPath is the configured best checkpoint path.
func (cm *CheckpointManager) BestPath() string {
	return cm.config.BestPath
}

// PretrainedPath is the pretrained initialization file.
func (cm *CheckpointManager) PretrainedPath() string {
	if cm.config.PretrainedPath != "" {
		return cm.config.PretrainedPath
	}
	return filepath.Join(cm.config.SaveDirectory, fmt.Sprintf("pretrained-%s.pth", cm.config.Dataset))
}

// LoadPretrained merges the pretrained file into params. Keys lose the
// "Model." prefix; unmatched keys on either side are reported, not errors.
func (cm *CheckpointManager) LoadPretrained(params []*tensor.Parameter) (checkpoints.MergeReport, error) {
	path := cm.PretrainedPath()
	ckpt, err := checkpoints.Load(path)
	if err != nil {
		return checkpoints.MergeReport{}, fmt.Errorf("%w: %s: %v", ErrPretrained, path, err)
	}
	loaded, err := checkpoints.FromWeights(ckpt.Weights)
	if err != nil {
		return checkpoints.MergeReport{}, fmt.Errorf("%w: %s: %v", ErrPretrained, path, err)
	}
	merged, report, err := checkpoints.Merge(checkpoints.FromParameters(params), loaded, PretrainedPrefix)
	if err != nil {
		return report, fmt.Errorf("%w: %s: %w", ErrPretrained, path, err)
	}
	if err := checkpoints.Apply(params, merged); err != nil {
		return report, err
	}
	return report, nil
}

// SavePretrained writes params as the pretrained initialization, with
// every key carrying PretrainedPrefix, and returns the path.
func (cm *CheckpointManager) SavePretrained(params []*tensor.Parameter) (string, error) {
	path := cm.PretrainedPath()
	ckpt := &checkpoints.Checkpoint{
		Weights: checkpoints.FromParameters(params).WithPrefix(PretrainedPrefix).Weights(),
		Metadata: checkpoints.CheckpointMetadata{
			Description: "Pretrained initialization",
			Tags:        []string{cm.config.Dataset},
		},
	}
	if err := checkpoints.Save(ckpt, path); err != nil {
		return "", fmt.Errorf("failed to save pretrained weights %s: %w", path, err)
	}
	return path, nil
}

// SaveEpoch writes the per-epoch checkpoint and returns its path.
func (cm *CheckpointManager) SaveEpoch(params []*tensor.Parameter, opt optimizer.Optimizer, state checkpoints.TrainingState) (string, error) {
	path := cm.EpochPath(state.Epoch)
	desc := fmt.Sprintf("Epoch %d", state.Epoch)
	return path, cm.save(path, params, opt, state, desc)
}

// SaveBest writes the best checkpoint and returns its path.
func (cm *CheckpointManager) SaveBest(params []*tensor.Parameter, opt optimizer.Optimizer, state checkpoints.TrainingState) (string, error) {
	path := cm.BestPath()
	desc := fmt.Sprintf("Best checkpoint - %s: %.6f at epoch %d", state.KeyEval, state.BestValue, state.BestEpoch)
	return path, cm.save(path, params, opt, state, desc)
}

func (cm *CheckpointManager) save(path string, params []*tensor.Parameter, opt optimizer.Optimizer, state checkpoints.TrainingState, description string) error {
	ckpt := &checkpoints.Checkpoint{
		Weights:       checkpoints.FromParameters(params).Weights(),
		TrainingState: state,
		Metadata: checkpoints.CheckpointMetadata{
			Description: description,
			Tags:        []string{cm.config.Dataset},
		},
	}
	if cm.config.Description != "" {
		ckpt.Metadata.Description = cm.config.Description + ": " + description
	}
	if opt != nil {
		st, err := opt.GetState()
		if err != nil {
			return fmt.Errorf("failed to extract optimizer state: %w", err)
		}
		ckpt.OptimizerState = st
	}
	if err := checkpoints.Save(ckpt, path); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadWeights applies a checkpoint's weights to params strictly: every
// parameter must be present with its shape.
func LoadWeights(path string, params []*tensor.Parameter) (*checkpoints.Checkpoint, error) {
	ckpt, err := checkpoints.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	sd, err := checkpoints.FromWeights(ckpt.Weights)
	if err != nil {
		return nil, err
	}
	if err := checkpoints.Apply(params, sd); err != nil {
		return nil, err
	}
	return ckpt, nil
}
