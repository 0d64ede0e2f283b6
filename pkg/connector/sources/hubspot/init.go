package hubspot

import (
	"github.com/crmflow/crmflow/pkg/config"
	"github.com/crmflow/crmflow/pkg/connector/core"
	"github.com/crmflow/crmflow/pkg/connector/registry"
	"github.com/crmflow/crmflow/pkg/errors"
)

func init() {
	if err := registry.RegisterSource("hubspot", newFromRawConfig); err != nil {
		panic(err)
	}
}

func newFromRawConfig(rawConfig []byte) (core.Source, error) {
	cfg := &config.HubSpotSourceConfig{BaseConfig: *config.NewBaseConfig("hubspot", "source")}
	if err := config.Parse(rawConfig, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid hubspot source config")
	}
	return NewHubSpotSource(cfg)
}
