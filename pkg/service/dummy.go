package service

import (
	"sort"

	"github.com/factorykit/linewatch/pkg/production"
)

// Generator constants for disabled mode. Development only.
const (
	dummyPlan           = 45000
	dummyAlarmThreshold = 8000
	dummyAlarmChance    = 0.5
)

// generateSnapshot produces a plausible observation without touching
// the transport, honoring the loaded line master.
func (s *Service) generateSnapshot() production.Snapshot {
	types := s.master.Types()
	sort.Ints(types)
	productionType := types[s.rng.Intn(len(types))]
	cfg, err := s.master.Config(productionType)
	if err != nil {
		// Master always defines its own types; fall back hard if not.
		cfg = production.TypeConfig{Name: "UNKNOWN", Fully: 1, SecondsPerProduct: 1}
	}

	actual := s.rng.Intn(dummyPlan + 1)
	alarm := actual > dummyAlarmThreshold && s.rng.Float64() < dummyAlarmChance
	alarmMsg := ""
	if alarm {
		alarmMsg = "[TEST] alarm active"
	}

	return production.Snapshot{
		LineName:       s.cfg.LineName,
		ProductionType: productionType,
		ProductionName: cfg.Name,
		Plan:           dummyPlan,
		Actual:         actual,
		InOperating:    true,
		RemainMin:      production.RemainMinutes(dummyPlan, actual, cfg.SecondsPerProduct),
		RemainPallet:   production.RemainPallets(dummyPlan, actual, cfg.Fully),
		Fully:          cfg.Fully,
		Alarm:          alarm,
		AlarmMsg:       alarmMsg,
		Timestamp:      s.clock.Now(),
	}
}
