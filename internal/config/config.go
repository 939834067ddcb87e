package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	APIToken      string `json:"api_token"`
	MaxConcurrent int    `json:"max_concurrent"`
	MaxToolRounds int    `json:"max_tool_rounds"`
	HTTP          struct {
		Listen string `json:"listen"`
	} `json:"http"`
	Cache struct {
		// TTL is a Go duration string; empty or "0" keeps entries forever.
		TTL           string `json:"ttl"`
		SweepSchedule string `json:"sweep_schedule"`
	} `json:"cache"`
	LLM struct {
		BaseURL          string  `json:"base_url"`
		APIKey           string  `json:"api_key"`
		Model            string  `json:"model"`
		MaxTokens        int     `json:"max_tokens"`
		Temperature      float32 `json:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve"`
		VisionModel      string  `json:"vision_model"`
		VisionProModel   string  `json:"vision_pro_model"`
	} `json:"llm"`
	GoogleMaps struct {
		APIKey         string `json:"api_key"`
		SearchEndpoint string `json:"search_endpoint"`
		PlacesEndpoint string `json:"places_endpoint"`
		PhotosEndpoint string `json:"photos_endpoint"`
	} `json:"google_maps"`
	Yelp struct {
		APIKey  string `json:"api_key"`
		BaseURL string `json:"base_url"`
	} `json:"yelp"`
	Exa struct {
		APIKey  string `json:"api_key"`
		BaseURL string `json:"base_url"`
	} `json:"exa"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".mealfinder"),
		MaxConcurrent: 4,
	}
	cfg.LogLevel = "info"
	cfg.MaxToolRounds = 10
	cfg.HTTP.Listen = "0.0.0.0:8000"
	cfg.Cache.SweepSchedule = "0 * * * *"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.VisionModel = "gpt-4o-mini"
	cfg.LLM.VisionProModel = "gpt-4o"
	cfg.GoogleMaps.SearchEndpoint = "https://places.googleapis.com/v1/places:searchText"
	cfg.GoogleMaps.PlacesEndpoint = "https://places.googleapis.com/v1/places"
	cfg.GoogleMaps.PhotosEndpoint = "https://places.googleapis.com/v1"
	cfg.Yelp.BaseURL = "https://api.yelp.com/v3"
	cfg.Exa.BaseURL = "https://api.exa.ai"

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if mapsKey := os.Getenv("GOOGLE_MAPS_API_KEY"); mapsKey != "" {
		cfg.GoogleMaps.APIKey = mapsKey
	}
	if yelpKey := os.Getenv("YELP_API_KEY"); yelpKey != "" {
		cfg.Yelp.APIKey = yelpKey
	}
	if exaKey := os.Getenv("EXA_API_KEY"); exaKey != "" {
		cfg.Exa.APIKey = exaKey
	}
	if token := os.Getenv("MEALFINDER_API_TOKEN"); token != "" {
		cfg.APIToken = token
	}

	return cfg, nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
