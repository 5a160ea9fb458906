package feetech

import "sort"

// Register is an entry of the servo control table.
type Register struct {
	Address  byte
	Size     int
	ReadOnly bool
}

// Control table entries shared by the SCS and STS families.
var (
	RegModelNumber     = Register{Address: 3, Size: 2, ReadOnly: true}
	RegTorqueEnable    = Register{Address: 40, Size: 1}
	RegGoalPosition    = Register{Address: 42, Size: 2}
	RegGoalSpeed       = Register{Address: 46, Size: 2} // "running speed" on SCS
	RegPresentPosition = Register{Address: 56, Size: 2, ReadOnly: true}
)

// Model describes a servo model.
type Model struct {
	Name        string
	Number      int // returned by the model number register
	Protocol    int
	Resolution  int
	MaxPosition int
}

// Known models.
var (
	ModelSCS15 = Model{
		Name:        "scs15",
		Number:      15,
		Protocol:    ProtocolSCS,
		Resolution:  1024,
		MaxPosition: 1023,
	}

	ModelSCS0009 = Model{
		Name:        "scs0009",
		Number:      9,
		Protocol:    ProtocolSCS,
		Resolution:  1024,
		MaxPosition: 1023,
	}

	ModelSTS3215 = Model{
		Name:        "sts3215",
		Number:      777,
		Protocol:    ProtocolSTS,
		Resolution:  4096,
		MaxPosition: 4095,
	}
)

var (
	modelsByName   = map[string]*Model{}
	modelsByNumber = map[int]*Model{}
)

func init() {
	RegisterModel(&ModelSCS15)
	RegisterModel(&ModelSCS0009)
	RegisterModel(&ModelSTS3215)
}

// RegisterModel adds m to the registry, replacing any model with the same name or number.
func RegisterModel(m *Model) {
	modelsByName[m.Name] = m
	modelsByNumber[m.Number] = m
}

// GetModel looks a model up by name.
func GetModel(name string) (*Model, bool) {
	m, ok := modelsByName[name]
	return m, ok
}

// GetModelByNumber looks a model up by its hardware model number.
func GetModelByNumber(number int) (*Model, bool) {
	m, ok := modelsByNumber[number]
	return m, ok
}

// ListModels returns the registered model names in sorted order.
func ListModels() []string {
	names := make([]string, 0, len(modelsByName))
	for name := range modelsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultModel returns the model assumed for a protocol when nothing else is known.
func DefaultModel(protocol int) *Model {
	if protocol == ProtocolSCS {
		return &ModelSCS15
	}
	return &ModelSTS3215
}
