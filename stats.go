package ccx

import (
	"fmt"
	"strings"

	"github.com/llxisdsh/ccx/ebr"
)

// Stats is HashMap statistics.
//
// Notes:
//   - map statistics are intended to be used for diagnostic
//     purposes, not for production code. This means that breaking changes
//     may be introduced into this struct even between minor releases.
type Stats struct {
	// RootCells is the number of cells in the current generation.
	RootCells int
	// Capacity is the total number of entries the slot arrays can hold
	// without overflowing, ignoring the load factor.
	Capacity int
	// Size is the exact number of entries counted cell by cell.
	Size int
	// Counter is the entry count according to the striped counters. Under
	// concurrent modification it may differ from Size.
	Counter int
	// MinEntries and MaxEntries are per-cell occupancy extremes,
	// overflow included.
	MinEntries int
	MaxEntries int
	// TotalGrowths is the number of times the table grew.
	TotalGrowths uint32
	// TotalShrinks is the number of times the table shrunk.
	TotalShrinks uint32
}

// String returns string representation of map stats.
func (s *Stats) String() string {
	var sb strings.Builder
	sb.WriteString("Stats{\n")
	sb.WriteString(fmt.Sprintf("RootCells:    %d\n", s.RootCells))
	sb.WriteString(fmt.Sprintf("Capacity:     %d\n", s.Capacity))
	sb.WriteString(fmt.Sprintf("Size:         %d\n", s.Size))
	sb.WriteString(fmt.Sprintf("Counter:      %d\n", s.Counter))
	sb.WriteString(fmt.Sprintf("MinEntries:   %d\n", s.MinEntries))
	sb.WriteString(fmt.Sprintf("MaxEntries:   %d\n", s.MaxEntries))
	sb.WriteString(fmt.Sprintf("TotalGrowths: %d\n", s.TotalGrowths))
	sb.WriteString(fmt.Sprintf("TotalShrinks: %d\n", s.TotalShrinks))
	sb.WriteString("}\n")
	return sb.String()
}

// Stats returns statistics for the current generation. Taken without locks;
// numbers are approximate under concurrent modification.
func (m *HashMap[K, V]) Stats() Stats {
	stats := Stats{
		TotalGrowths: m.growths.Load(),
		TotalShrinks: m.shrinks.Load(),
		MinEntries:   int(^uint(0) >> 1),
	}
	var g ebr.Guard
	g.Enter()
	defer g.Leave()
	p := m.cur.Load(&g)
	if p.IsNil() {
		stats.MinEntries = 0
		return stats
	}
	t := p.Deref(&g)
	stats.RootCells = len(t.cells)
	stats.Capacity = t.capacity()
	stats.Counter = t.sumSize()
	for i := range t.cells {
		n := int(t.cells[i].num.Load())
		stats.Size += n
		stats.MinEntries = min(stats.MinEntries, n)
		stats.MaxEntries = max(stats.MaxEntries, n)
	}
	return stats
}
