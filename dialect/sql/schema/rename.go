package schema

import "github.com/agext/levenshtein"

// DefaultRenameSimilarityThreshold is the conservative default answer to
// spec Open Question 2: a table/column name pair must be at least this
// similar (0..1, Levenshtein-based) before it is even considered a rename
// candidate, and candidates are still rejected whenever more than one
// desired name clears the bar for the same dropped name (ambiguous cases
// are surfaced, not guessed).
const DefaultRenameSimilarityThreshold = 0.6

// RenameConfig tunes the opt-in rename-detection pass DetectRenames runs
// over a Diff's raw add/drop changes.
type RenameConfig struct {
	// Enabled gates the entire pass; rename detection is off by default.
	Enabled bool
	// SimilarityThreshold overrides DefaultRenameSimilarityThreshold.
	SimilarityThreshold float64
}

func (c RenameConfig) threshold() float64 {
	if c.SimilarityThreshold > 0 {
		return c.SimilarityThreshold
	}
	return DefaultRenameSimilarityThreshold
}

// DetectRenames post-processes the changes Diff(current, desired)
// produced, folding an AddTable/DropTable pair into a single RenameTable
// change when their column signatures match exactly and their names are
// similar enough, and likewise for AddColumn/DropColumn pairs within a
// table that survives in both current and desired. A dropped name with
// more than one equally-qualifying candidate is left as a plain add+drop:
// the comparator surfaces the ambiguity rather than guessing which one is
// the rename.
func DetectRenames(changes []Change, current, desired []*Table, cfg RenameConfig) []Change {
	if !cfg.Enabled {
		return changes
	}
	threshold := cfg.threshold()

	currentMap := make(map[string]*Table, len(current))
	for _, t := range current {
		currentMap[t.Name] = t
	}
	desiredMap := make(map[string]*Table, len(desired))
	for _, t := range desired {
		desiredMap[t.Name] = t
	}

	out := renameTables(changes, currentMap, desiredMap, threshold)
	return renameColumns(out, currentMap, desiredMap, threshold)
}

func renameTables(changes []Change, currentMap, desiredMap map[string]*Table, threshold float64) []Change {
	var dropped, added []string
	for _, c := range changes {
		switch c.Kind {
		case DropTable:
			dropped = append(dropped, c.Table)
		case AddTable:
			added = append(added, c.Table)
		}
	}

	renames := matchByNameAndSignature(dropped, added, threshold, func(oldName, newName string) bool {
		return sameColumnSignature(currentMap[oldName].Columns, desiredMap[newName].Columns)
	})
	if len(renames) == 0 {
		return changes
	}

	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if c.Kind == DropTable {
			if newName, ok := renames[c.Table]; ok {
				out = append(out, Change{Kind: RenameTable, Table: newName, OldName: c.Table})
				continue
			}
		}
		if c.Kind == AddTable {
			if isRenameTarget(renames, c.Table) {
				continue // already emitted as the paired RenameTable above
			}
		}
		out = append(out, c)
	}
	return out
}

func renameColumns(changes []Change, currentMap, desiredMap map[string]*Table, threshold float64) []Change {
	byTable := make(map[string][]Change)
	var order []string
	for _, c := range changes {
		if c.Kind == AddColumn || c.Kind == DropColumn {
			if _, seen := byTable[c.Table]; !seen {
				order = append(order, c.Table)
			}
			byTable[c.Table] = append(byTable[c.Table], c)
		}
	}

	renamed := make(map[string]map[string]string) // table -> old col -> new col
	for _, table := range order {
		var dropped, added []string
		for _, c := range byTable[table] {
			if c.Kind == DropColumn {
				dropped = append(dropped, c.Column.Name)
			} else {
				added = append(added, c.Column.Name)
			}
		}
		cur, desired := currentMap[table], desiredMap[table]
		if cur == nil || desired == nil {
			continue
		}
		matches := matchByNameAndSignature(dropped, added, threshold, func(oldName, newName string) bool {
			oc, nc := cur.Column(oldName), desired.Column(newName)
			return oc != nil && nc != nil && oc.Type == nc.Type && oc.Size == nc.Size && oc.Scale == nc.Scale
		})
		if len(matches) > 0 {
			renamed[table] = matches
		}
	}
	if len(renamed) == 0 {
		return changes
	}

	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		if c.Kind == DropColumn {
			if newName, ok := renamed[c.Table][c.Column.Name]; ok {
				out = append(out, Change{
					Kind:    RenameColumn,
					Table:   c.Table,
					Column:  desiredMap[c.Table].Column(newName),
					OldName: c.Column.Name,
				})
				continue
			}
		}
		if c.Kind == AddColumn {
			if isRenameTarget(renamed[c.Table], c.Column.Name) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// matchByNameAndSignature pairs each dropped name with at most one added
// name: a candidate must pass sigMatch and clear the similarity threshold,
// and must be the unique such candidate for that dropped name (and vice
// versa) or the pairing is skipped as ambiguous.
func matchByNameAndSignature(dropped, added []string, threshold float64, sigMatch func(oldName, newName string) bool) map[string]string {
	candidates := make(map[string][]string) // dropped name -> matching added names
	for _, d := range dropped {
		for _, a := range added {
			if !sigMatch(d, a) {
				continue
			}
			if levenshtein.Match(d, a, nil) >= threshold {
				candidates[d] = append(candidates[d], a)
			}
		}
	}
	reverse := make(map[string][]string) // added name -> matching dropped names
	for d, as := range candidates {
		for _, a := range as {
			reverse[a] = append(reverse[a], d)
		}
	}

	out := make(map[string]string)
	for d, as := range candidates {
		if len(as) != 1 {
			continue // ambiguous: more than one same-signature, similar-enough candidate
		}
		a := as[0]
		if len(reverse[a]) != 1 {
			continue // the added name is itself ambiguous between multiple dropped names
		}
		out[d] = a
	}
	return out
}

func isRenameTarget(renames map[string]string, newName string) bool {
	for _, v := range renames {
		if v == newName {
			return true
		}
	}
	return false
}

// sameColumnSignature reports whether two column sets have the same
// (name, type, nullability) triples, independent of ordering — the
// comparator's heuristic corroborating signal for a table rename.
func sameColumnSignature(a, b []*Column) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(c *Column) string {
		nullable := "0"
		if c.Nullable {
			nullable = "1"
		}
		return c.Name + "|" + string(c.Type) + "|" + nullable
	}
	counts := make(map[string]int, len(a))
	for _, c := range a {
		counts[key(c)]++
	}
	for _, c := range b {
		counts[key(c)]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}
