package pipeline

import (
	"slices"
)

// GroupReport is how far the result set of a group matches its index.
type GroupReport struct {
	Group      string
	Units      int
	Verified   int
	Mismatched int
	Unresolved int
	Records    int
}

// Verify compares results against index without touching the source. Groups
// are listed in the given order, groups that only appear in the index or in
// the results are appended sorted by name.
func Verify(ordered []string, index Index, results *ResultSet) []GroupReport {
	reports := map[string]*GroupReport{}
	get := func(group string) *GroupReport {
		report, ok := reports[group]
		if !ok {
			report = &GroupReport{Group: group}
			reports[group] = report
		}
		return report
	}

	for group, units := range index {
		report := get(group)
		for unit, expected := range units {
			report.Units++
			n, resolved := expected.Count()
			switch {
			case !resolved:
				report.Unresolved++
			case results.Count(group, unit) == n:
				report.Verified++
			default:
				report.Mismatched++
			}
		}
	}
	for _, r := range results.records {
		get(r.Group).Records++
	}

	out := make([]GroupReport, 0, len(reports))
	for _, report := range reports {
		out = append(out, *report)
	}
	return OrderReports(ordered, out)
}

// OrderReports lists reports of the given groups first and in that order,
// the remaining reports follow sorted by group.
func OrderReports(ordered []string, reports []GroupReport) []GroupReport {
	byGroup := map[string]GroupReport{}
	for _, r := range reports {
		byGroup[r.Group] = r
	}

	var out []GroupReport
	listed := map[string]struct{}{}
	for _, group := range ordered {
		report, ok := byGroup[group]
		if !ok {
			continue
		}
		if _, ok := listed[group]; ok {
			continue
		}
		listed[group] = struct{}{}
		out = append(out, report)
	}

	var rest []string
	for group := range byGroup {
		if _, ok := listed[group]; !ok {
			rest = append(rest, group)
		}
	}
	slices.Sort(rest)
	for _, group := range rest {
		out = append(out, byGroup[group])
	}
	return out
}
