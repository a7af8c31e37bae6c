package lm

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// modelConfigJSON is the subset of a model's config.json this system
// reads: just enough to classify the model's family (§4.11). Unlike
// the teacher's AutoConfig, this never reaches out to the HF Hub —
// model files are supplied as local paths, so the config sits beside
// the model file or is simply absent.
type modelConfigJSON struct {
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures"`
}

// DetectFamily looks for a config.json next to modelPath and classifies
// it via InferFamily. A missing or unparsable config.json is not an
// error: it resolves to FamilyGeneric, which is always a safe default.
func DetectFamily(modelPath string) Family {
	cfgPath := filepath.Join(filepath.Dir(modelPath), "config.json")
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return FamilyGeneric
	}
	var cfg modelConfigJSON
	if err := json.Unmarshal(data, &cfg); err != nil {
		return FamilyGeneric
	}
	return InferFamily(cfg.ModelType, cfg.Architectures)
}
