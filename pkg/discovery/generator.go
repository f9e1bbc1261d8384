// Package discovery sweeps a Parameter Generator's combinations, running
// the Device Identifier against each and reporting devices as they are
// found. The Scanner opens one Bus Client per parameter group itself; it
// does not draw clients from a Transport Manager pool.
package discovery

import "github.com/edgeflow/modbus-toolkit/pkg/transport"

// Strategy selects which serial parameter lists the generator draws from.
type Strategy string

const (
	StrategyQuick    Strategy = "quick"
	StrategyThorough Strategy = "thorough"
)

var (
	quickBaudRates = []int{9600, 19200}
	quickParities  = []transport.Parity{transport.ParityNone, transport.ParityEven, transport.ParityOdd}
	quickDataBits  = []int{8}
	quickStopBits  = []int{1}

	thoroughBaudRates = []int{2400, 4800, 9600, 14400, 19200, 38400, 57600, 115200}
	thoroughParities  = []transport.Parity{transport.ParityNone, transport.ParityEven, transport.ParityOdd}
	thoroughDataBits  = []int{7, 8}
	thoroughStopBits  = []int{1, 2}
)

// AddressRange is an inclusive [Min, Max] slave address bound.
type AddressRange struct {
	Min byte
	Max byte
}

func defaultAddressRange() AddressRange { return AddressRange{Min: 1, Max: 247} }

// SupportedConfig restricts the generator's Cartesian product to a driver's
// declared capabilities.
type SupportedConfig struct {
	BaudRates []int
	Parities  []transport.Parity
	DataBits  []int
	StopBits  []int
	Addresses *AddressRange
}

// Config parameterizes the generator.
type Config struct {
	Strategy Strategy

	// DefaultConfig, when set, is prepended to each parameter list so its
	// exact values are tested first.
	DefaultConfig *transport.SerialParams

	Supported *SupportedConfig
}

// Combination is one Serial Parameters + Slave Address pair.
type Combination struct {
	Serial transport.SerialParams
	Slave  byte
}

// Group is one Serial Parameters tuple with its addresses in priority
// order (1, 2, then ascending).
type Group struct {
	Serial    transport.SerialParams
	Addresses []byte
}

func dedupInts(vals []int) []int {
	seen := make(map[int]bool, len(vals))
	out := make([]int, 0, len(vals))
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func dedupParities(vals []transport.Parity) []transport.Parity {
	seen := make(map[transport.Parity]bool, len(vals))
	out := make([]transport.Parity, 0, len(vals))
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// resolvedLists computes the four parameter lists and the address range
// that the Cartesian product draws from, applying DefaultConfig/Supported
// restriction and priority ordering. DefaultConfig values are moved to the
// front of their respective list (not appended — order is what gives them
// priority) when present in the restricted set, or prepended if absent
// from it: an operator's declared default must always be tried first.
func (c Config) resolvedLists() (baud []int, parity []transport.Parity, dataBits []int, stopBits []int, addrRange AddressRange) {
	switch c.Strategy {
	case StrategyThorough:
		baud = append([]int{}, thoroughBaudRates...)
		parity = append([]transport.Parity{}, thoroughParities...)
		dataBits = append([]int{}, thoroughDataBits...)
		stopBits = append([]int{}, thoroughStopBits...)
	default:
		baud = append([]int{}, quickBaudRates...)
		parity = append([]transport.Parity{}, quickParities...)
		dataBits = append([]int{}, quickDataBits...)
		stopBits = append([]int{}, quickStopBits...)
	}
	addrRange = defaultAddressRange()

	if c.Supported != nil {
		if len(c.Supported.BaudRates) > 0 {
			baud = restrictInts(baud, c.Supported.BaudRates)
		}
		if len(c.Supported.Parities) > 0 {
			parity = restrictParities(parity, c.Supported.Parities)
		}
		if len(c.Supported.DataBits) > 0 {
			dataBits = restrictInts(dataBits, c.Supported.DataBits)
		}
		if len(c.Supported.StopBits) > 0 {
			stopBits = restrictInts(stopBits, c.Supported.StopBits)
		}
		if c.Supported.Addresses != nil {
			addrRange = *c.Supported.Addresses
		}
	}

	if c.DefaultConfig != nil {
		baud = promote(baud, c.DefaultConfig.BaudRate)
		parity = promoteParity(parity, c.DefaultConfig.Parity)
		dataBits = promote(dataBits, c.DefaultConfig.DataBits)
		stopBits = promote(stopBits, c.DefaultConfig.StopBits)
	}

	return dedupInts(baud), dedupParities(parity), dedupInts(dataBits), dedupInts(stopBits), addrRange
}

func restrictInts(base []int, allowed []int) []int {
	allowedSet := make(map[int]bool, len(allowed))
	for _, v := range allowed {
		allowedSet[v] = true
	}
	out := make([]int, 0, len(base))
	for _, v := range base {
		if allowedSet[v] {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return append([]int{}, allowed...)
	}
	return out
}

func restrictParities(base []transport.Parity, allowed []transport.Parity) []transport.Parity {
	allowedSet := make(map[transport.Parity]bool, len(allowed))
	for _, v := range allowed {
		allowedSet[v] = true
	}
	out := make([]transport.Parity, 0, len(base))
	for _, v := range base {
		if allowedSet[v] {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return append([]transport.Parity{}, allowed...)
	}
	return out
}

func promote(list []int, value int) []int {
	out := make([]int, 0, len(list)+1)
	out = append(out, value)
	out = append(out, list...)
	return out
}

func promoteParity(list []transport.Parity, value transport.Parity) []transport.Parity {
	out := make([]transport.Parity, 0, len(list)+1)
	out = append(out, value)
	out = append(out, list...)
	return out
}

func addressesInPriorityOrder(r AddressRange) []byte {
	addrs := make([]byte, 0, int(r.Max)-int(r.Min)+1)
	if r.Min <= 1 && 1 <= r.Max {
		addrs = append(addrs, 1)
	}
	if r.Min <= 2 && 2 <= r.Max {
		addrs = append(addrs, 2)
	}
	for a := int(r.Min); a <= int(r.Max); a++ {
		if a == 1 || a == 2 {
			continue
		}
		addrs = append(addrs, byte(a))
	}
	return addrs
}

// CountCombinations returns the product of the four parameter cardinalities
// and the address-range cardinality, without enumerating anything.
func CountCombinations(cfg Config) int {
	baud, parity, dataBits, stopBits, addrRange := cfg.resolvedLists()
	addrCount := int(addrRange.Max) - int(addrRange.Min) + 1
	if addrCount < 0 {
		addrCount = 0
	}
	return len(baud) * len(parity) * len(dataBits) * len(stopBits) * addrCount
}

// EnumerateGroups yields one Group per serial tuple, each carrying its
// addresses in priority order. It never materializes more than one group's
// address list at a time.
func EnumerateGroups(cfg Config) []Group {
	baud, parity, dataBits, stopBits, addrRange := cfg.resolvedLists()
	addrs := addressesInPriorityOrder(addrRange)

	groups := make([]Group, 0, len(baud)*len(parity)*len(dataBits)*len(stopBits))
	for _, b := range baud {
		for _, p := range parity {
			for _, d := range dataBits {
				for _, s := range stopBits {
					groups = append(groups, Group{
						Serial: transport.SerialParams{
							BaudRate: b,
							Parity:   p,
							DataBits: d,
							StopBits: s,
						},
						Addresses: addrs,
					})
				}
			}
		}
	}
	return groups
}

// Enumerate flattens EnumerateGroups into individual Parameter Combinations,
// for callers (and tests) that want the ungrouped sequence. CountCombinations
// must always agree with len(Enumerate(cfg)).
func Enumerate(cfg Config) []Combination {
	groups := EnumerateGroups(cfg)
	out := make([]Combination, 0, CountCombinations(cfg))
	for _, g := range groups {
		for _, addr := range g.Addresses {
			out = append(out, Combination{Serial: g.Serial, Slave: addr})
		}
	}
	return out
}
