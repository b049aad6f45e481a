package engine

import "sort"

// Reconcile returns the paths to add and to remove so that current becomes
// desired. Both results are sorted and disjoint; duplicates are ignored.
func Reconcile(desired, current []string) (toAdd, toRemove []string) {
	want := toSet(desired)
	have := toSet(current)

	for p := range want {
		if _, ok := have[p]; !ok {
			toAdd = append(toAdd, p)
		}
	}
	for p := range have {
		if _, ok := want[p]; !ok {
			toRemove = append(toRemove, p)
		}
	}
	sort.Strings(toAdd)
	sort.Strings(toRemove)
	return toAdd, toRemove
}

func toSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
