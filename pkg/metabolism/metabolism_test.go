package metabolism

import "testing"

func TestMainsPoweredAlwaysFullEnergy(t *testing.T) {
	b := NewBattery(3.3, 0, true)
	if got := b.EnergyScore(); got != 1.0 {
		t.Fatalf("mains-powered energy score = %v, want 1.0", got)
	}
	b.SetMode(Critical)
	if got := b.EnergyScore(); got != 1.0 {
		t.Fatalf("mains-powered energy score after mode change = %v, want 1.0", got)
	}
}

func TestBatteryEnergyScoreClamped(t *testing.T) {
	cases := []struct {
		name     string
		voltage  float64
		capacity float64
	}{
		{"depleted", 3.3, 0},
		{"overfull", 5.0, 10000},
		{"nominal", 4.2, 2500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBattery(tc.voltage, tc.capacity, false)
			got := b.EnergyScore()
			if got < 0 || got > 1 {
				t.Fatalf("energy score %v out of [0,1]", got)
			}
		})
	}
}

func TestConsumeDepletesAndRefusesBelowZero(t *testing.T) {
	b := NewBattery(4.0, 10, false)
	if ok := b.Consume(5); !ok {
		t.Fatalf("consume should succeed while capacity remains")
	}
	if ok := b.Consume(100); !ok {
		t.Fatalf("consume should still succeed once, clamping capacity to zero")
	}
	if ok := b.Consume(1); ok {
		t.Fatalf("consume on depleted battery should return false")
	}
	if r := b.Remaining(); r != 0 {
		t.Fatalf("remaining = %v, want 0", r)
	}
}

func TestMockMetabolismPinnedEnergy(t *testing.T) {
	m := NewMock(0.42, false)
	if got := m.EnergyScore(); got != 0.42 {
		t.Fatalf("mock energy = %v, want 0.42", got)
	}
	m.Energy = 0
	if ok := m.Consume(0.1); ok {
		t.Fatalf("consume on depleted mock should return false")
	}
}

func TestSetModePresets(t *testing.T) {
	b := NewBattery(4.2, 2500, false)
	b.SetMode(Critical)
	if r := b.Remaining(); r != 50 {
		t.Fatalf("critical mode remaining = %v, want 50", r)
	}
}

func TestBasicSensorUpdateFromMesh(t *testing.T) {
	s := NewBasicSensor("temp")
	if s.Read() != 0 {
		t.Fatalf("new sensor should read 0")
	}
	s.UpdateFromMesh(21.5)
	if s.Read() != 21.5 {
		t.Fatalf("sensor read = %v, want 21.5", s.Read())
	}
	if s.Name() != "temp" {
		t.Fatalf("sensor name = %q, want temp", s.Name())
	}
}
