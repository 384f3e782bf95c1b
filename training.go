package beacon

import (
	"reflect"
	"time"
)

// Training event types written in the event_type field.
const (
	EventTrainingStart   = "training_start"
	EventTrainingStep    = "training_step"
	EventValidation      = "validation"
	EventCheckpointSaved = "checkpoint_saved"
	EventTrainingEnd     = "training_end"
	EventModelSaved      = "model_saved"
	EventModelLoaded     = "model_loaded"
)

// TrainingLogger writes INFO entries for model training sessions. Session
// events read "Training event: <type>" and carry session_id; model events
// read "Model event: <type>" and carry model_id.
type TrainingLogger struct {
	logger EventLogger
	cfg    TrainingLoggingConfig
}

// NewTrainingLogger binds a training logger to l.
func NewTrainingLogger(l EventLogger, cfg TrainingLoggingConfig) *TrainingLogger {
	return &TrainingLogger{logger: l, cfg: cfg}
}

// LogTrainingEvent writes a session event of any type.
func (tl *TrainingLogger) LogTrainingEvent(sessionID, eventType string, data Fields) {
	if !tl.cfg.Enabled {
		return
	}
	base := Fields{"session_id": sessionID, "event_type": eventType}
	tl.logger.Log(LevelInfo, "Training event: "+eventType, mergeFields(data, base))
}

// LogModelEvent writes a model event of any type.
func (tl *TrainingLogger) LogModelEvent(modelID int64, eventType string, data Fields) {
	if !tl.cfg.Enabled {
		return
	}
	base := Fields{"model_id": modelID, "event_type": eventType}
	tl.logger.Log(LevelInfo, "Model event: "+eventType, mergeFields(data, base))
}

// LogTrainingStart records the model name, the hyperparameters when enabled
// and dataset information. Hyperparameters may be a map or a struct; structs
// are flattened into dotted keys.
func (tl *TrainingLogger) LogTrainingStart(sessionID, modelName string, hyperparameters any, datasetInfo map[string]any, extra Fields) {
	data := Fields{"model_name": modelName}
	if tl.cfg.LogHyperparameters {
		if hp := paramsValue(hyperparameters); hp != nil {
			data["hyperparameters"] = hp
		}
	}
	if len(datasetInfo) > 0 {
		data["dataset_info"] = datasetInfo
	}
	tl.LogTrainingEvent(sessionID, EventTrainingStart, mergeFields(extra, data))
}

// LogTrainingStep records step, epoch, loss and metrics when enabled.
func (tl *TrainingLogger) LogTrainingStep(sessionID string, step, epoch int, loss float64, metrics map[string]float64, extra Fields) {
	data := Fields{"step": step, "epoch": epoch, "loss": loss}
	if tl.cfg.LogMetrics && len(metrics) > 0 {
		data["metrics"] = metrics
	}
	tl.LogTrainingEvent(sessionID, EventTrainingStep, mergeFields(extra, data))
}

// LogValidation records the validation loss and, when enabled, metrics.
func (tl *TrainingLogger) LogValidation(sessionID string, epoch int, validationLoss float64, metrics map[string]float64, extra Fields) {
	data := Fields{"epoch": epoch, "validation_loss": validationLoss}
	if tl.cfg.LogValidation && len(metrics) > 0 {
		data["validation_metrics"] = metrics
	}
	tl.LogTrainingEvent(sessionID, EventValidation, mergeFields(extra, data))
}

// LogCheckpoint records a saved checkpoint.
func (tl *TrainingLogger) LogCheckpoint(sessionID, checkpointPath string, epoch int, metrics map[string]float64, extra Fields) {
	data := Fields{"checkpoint_path": checkpointPath, "epoch": epoch}
	if tl.cfg.LogCheckpoints && len(metrics) > 0 {
		data["metrics"] = metrics
	}
	tl.LogTrainingEvent(sessionID, EventCheckpointSaved, mergeFields(extra, data))
}

// LogTrainingEnd records final metrics when enabled and the total training
// time when positive.
func (tl *TrainingLogger) LogTrainingEnd(sessionID string, finalMetrics map[string]float64, trainingTime time.Duration, extra Fields) {
	data := Fields{}
	if tl.cfg.LogMetrics && len(finalMetrics) > 0 {
		data["final_metrics"] = finalMetrics
	}
	if trainingTime > 0 {
		data["training_time"] = trainingTime.Seconds()
	}
	tl.LogTrainingEvent(sessionID, EventTrainingEnd, mergeFields(extra, data))
}

// LogModelSave records where a model was written.
func (tl *TrainingLogger) LogModelSave(modelID int64, modelPath string, modelInfo map[string]any, extra Fields) {
	data := Fields{"model_path": modelPath}
	if len(modelInfo) > 0 {
		data["model_info"] = modelInfo
	}
	tl.LogModelEvent(modelID, EventModelSaved, mergeFields(extra, data))
}

// LogModelLoad records where a model was read from.
func (tl *TrainingLogger) LogModelLoad(modelID int64, modelPath string, extra Fields) {
	tl.LogModelEvent(modelID, EventModelLoaded, mergeFields(extra, Fields{"model_path": modelPath}))
}

// paramsValue returns maps unchanged and flattens structs. Empty input
// yields nil.
func paramsValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return flatten(emptyString, v)
	case reflect.Map:
		if rv.Len() == 0 {
			return nil
		}
	}
	return v
}
