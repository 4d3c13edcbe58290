package config

import (
	"fmt"
	"os"

	"referral-service/pkg/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ProgramCatalog описывает файл каталога реферальных программ
type ProgramCatalog struct {
	Programs []ProgramEntry `yaml:"programs"`
}

// ProgramEntry одна программа в каталоге
type ProgramEntry struct {
	Key           string            `yaml:"key"`
	Name          string            `yaml:"name"`
	RewardAmount  string            `yaml:"reward_amount"`
	Currency      string            `yaml:"currency,omitempty"`
	RewardType    string            `yaml:"reward_type,omitempty"`
	Active        *bool             `yaml:"active,omitempty"`
	AdapterType   string            `yaml:"adapter_type,omitempty"`
	AdapterConfig map[string]string `yaml:"adapter_config,omitempty"`
}

// LoadPrograms читает каталог программ из YAML файла
func LoadPrograms(path string) ([]*models.ReferralProgram, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога программ: %w", err)
	}
	return ParsePrograms(data)
}

// ParsePrograms разбирает каталог программ
func ParsePrograms(data []byte) ([]*models.ReferralProgram, error) {
	var catalog ProgramCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("ошибка разбора каталога программ: %w", err)
	}

	seen := make(map[string]struct{}, len(catalog.Programs))
	programs := make([]*models.ReferralProgram, 0, len(catalog.Programs))
	for i, entry := range catalog.Programs {
		if _, ok := seen[entry.Key]; ok {
			return nil, fmt.Errorf("программа %q объявлена в каталоге дважды", entry.Key)
		}
		seen[entry.Key] = struct{}{}

		amount, err := decimal.NewFromString(entry.RewardAmount)
		if err != nil {
			return nil, fmt.Errorf("программа #%d (%s): неверная сумма вознаграждения: %w", i, entry.Key, err)
		}

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}

		program := &models.ReferralProgram{
			ProgramKey:     entry.Key,
			Name:           entry.Name,
			RewardAmount:   amount,
			RewardCurrency: entry.Currency,
			RewardType:     models.RewardType(entry.RewardType),
			IsActive:       active,
			AdapterType:    entry.AdapterType,
			AdapterConfig:  models.AdapterConfig(entry.AdapterConfig),
		}
		program.ApplyDefaults()
		if err := program.Validate(); err != nil {
			return nil, fmt.Errorf("программа #%d (%s): %w", i, entry.Key, err)
		}
		programs = append(programs, program)
	}

	return programs, nil
}
