package graph

import (
	"context"
	"slices"
	"strings"
)

// Cluster is a group of two or more files connected through importsFile
// edges, ignoring direction.
type Cluster struct {
	Name     string   `json:"name"`
	Cohesion float64  `json:"cohesion"`
	Members  []string `json:"members"`
}

// ImportClusters groups the files of r by import connectivity. A cluster is
// named after the directory its members share, and its cohesion is the
// number of distinct file pairs linked by an import divided by the number of
// pairs a fully connected group of that size would have. Clusters are
// ordered by their first member.
func ImportClusters(ctx context.Context, r Reader) ([]Cluster, error) {
	files, err := r.List(ctx, ListQuery{Kind: KindFile})
	if err != nil {
		return nil, err
	}
	links, err := fileLinks(ctx, r, files)
	if err != nil {
		return nil, err
	}

	sets := newDisjointSet(len(files))
	for l := range links {
		sets.union(l[0], l[1])
	}
	groups := map[int][]int{}
	for i := range files {
		root := sets.find(i)
		groups[root] = append(groups[root], i)
	}
	linkCount := map[int]int{}
	for l := range links {
		linkCount[sets.find(l[0])]++
	}

	var out []Cluster
	for root, idx := range groups {
		if len(idx) < 2 {
			continue
		}
		members := make([]string, len(idx))
		for i, f := range idx {
			members[i] = files[f].Name
		}
		slices.Sort(members)
		n := float64(len(idx))
		out = append(out, Cluster{
			Name:     longestCommonPrefix(members),
			Cohesion: float64(linkCount[root]) / (n * (n - 1) / 2),
			Members:  members,
		})
	}
	slices.SortFunc(out, func(a, b Cluster) int { return strings.Compare(a.Members[0], b.Members[0]) })
	return out, nil
}

// fileLinks returns the undirected file pairs, as indexes into files, that
// an import of one resolves to the other. Self imports are dropped.
func fileLinks(ctx context.Context, r Reader, files []Entity) (map[[2]int]struct{}, error) {
	index := make(map[ID]int, len(files))
	for i, f := range files {
		index[f.ID] = i
	}
	links := map[[2]int]struct{}{}
	for i, f := range files {
		imports, err := r.Owned(ctx, f.ID, KindImport)
		if err != nil {
			return nil, err
		}
		for _, imp := range imports {
			targets, err := r.Edges(ctx, EdgeImportsFile, imp.ID)
			if err != nil {
				return nil, err
			}
			for _, id := range targets {
				j, ok := index[id]
				if !ok || j == i {
					continue
				}
				links[[2]int{min(i, j), max(i, j)}] = struct{}{}
			}
		}
	}
	return links, nil
}

type disjointSet []int

func newDisjointSet(n int) disjointSet {
	s := make(disjointSet, n)
	for i := range s {
		s[i] = i
	}
	return s
}

func (s disjointSet) find(i int) int {
	for s[i] != i {
		s[i] = s[s[i]]
		i = s[i]
	}
	return i
}

func (s disjointSet) union(a, b int) {
	if ra, rb := s.find(a), s.find(b); ra != rb {
		s[max(ra, rb)] = min(ra, rb)
	}
}

// longestCommonPrefix returns the deepest directory, with a trailing slash,
// that contains every path, or "" if they share no directory.
func longestCommonPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	shared := strings.Split(paths[0], "/")
	shared = shared[:len(shared)-1]
	for _, p := range paths[1:] {
		dirs := strings.Split(p, "/")
		dirs = dirs[:len(dirs)-1]
		n := 0
		for n < len(shared) && n < len(dirs) && shared[n] == dirs[n] {
			n++
		}
		shared = shared[:n]
	}
	if len(shared) == 0 {
		return ""
	}
	return strings.Join(shared, "/") + "/"
}
