package brackets

import (
	"fmt"
	"math/bits"
	"sort"
	"time"

	"github.com/Dosada05/esports-tournament/models"
	"github.com/google/uuid"
)

// SlotSide identifies which input of the parent node a winner is written to.
type SlotSide int

const (
	SideA SlotSide = iota
	SideB
)

func (s SlotSide) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// ParentOf returns the node fed by (round, position). The link is pure arithmetic
// and never stored.
func ParentOf(round, position int) (int, int, SlotSide) {
	side := SideA
	if position%2 == 1 {
		side = SideB
	}
	return round + 1, position / 2, side
}

// NextPowerOfTwo returns the smallest power of two >= n (1 for n <= 1).
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// RoundsFor returns the tree height for a bracket of the given first-round size.
func RoundsFor(size int) int {
	return bits.TrailingZeros(uint(size))
}

var newID = uuid.New

type nodeKey struct {
	round    int
	position int
}

// Tree is the in-memory bracket of one tournament. It is the unit of mutation: the
// builder and the state machine change it and record every change in a ChangeSet.
// A tree that returned an error from a mutating call must be discarded.
type Tree struct {
	TournamentID   int
	Size           int
	Rounds         int
	Status         models.TournamentStatus
	ChampionTeamID *int

	nodes       map[nodeKey]*models.BracketNode
	nodeByID    map[uuid.UUID]*models.BracketNode
	matches     map[uuid.UUID]*models.Match
	matchByNode map[uuid.UUID]*models.Match

	changes *ChangeSet
}

func newTree(tournamentID, size int) *Tree {
	return &Tree{
		TournamentID: tournamentID,
		Size:         size,
		Rounds:       RoundsFor(size),
		nodes:        make(map[nodeKey]*models.BracketNode, size),
		nodeByID:     make(map[uuid.UUID]*models.BracketNode, size),
		matches:      make(map[uuid.UUID]*models.Match, size),
		matchByNode:  make(map[uuid.UUID]*models.Match, size),
		changes:      newChangeSet(),
	}
}

// LoadTree rebuilds a tree from persisted rows.
func LoadTree(tournament *models.Tournament, nodes []*models.BracketNode, matches []*models.Match) (*Tree, error) {
	if tournament == nil {
		return nil, fmt.Errorf("%w: nil tournament", ErrCorruptTree)
	}
	size := tournament.BracketSize
	if size < 2 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: tournament %d has bracket size %d", ErrCorruptTree, tournament.ID, size)
	}
	if len(nodes) != size-1 {
		return nil, fmt.Errorf("%w: tournament %d expects %d nodes, found %d", ErrCorruptTree, tournament.ID, size-1, len(nodes))
	}

	t := newTree(tournament.ID, size)
	t.Status = tournament.Status
	t.ChampionTeamID = copyInt(tournament.ChampionTeamID)

	for _, n := range nodes {
		if n.Round < 1 || n.Round > t.Rounds || n.Position < 0 || n.Position >= size>>n.Round {
			return nil, fmt.Errorf("%w: node %s at round %d position %d is out of range", ErrCorruptTree, n.ID, n.Round, n.Position)
		}
		if _, dup := t.nodes[nodeKey{n.Round, n.Position}]; dup {
			return nil, fmt.Errorf("%w: duplicate node at round %d position %d", ErrCorruptTree, n.Round, n.Position)
		}
		t.addNode(n)
	}
	for _, m := range matches {
		node, ok := t.nodeByID[m.NodeID]
		if !ok {
			return nil, fmt.Errorf("%w: match %s references unknown node %s", ErrCorruptTree, m.ID, m.NodeID)
		}
		if _, dup := t.matchByNode[node.ID]; dup {
			return nil, fmt.Errorf("%w: node %s hosts more than one match", ErrCorruptTree, node.ID)
		}
		t.addMatch(m)
	}
	return t, nil
}

func (t *Tree) addNode(n *models.BracketNode) {
	t.nodes[nodeKey{n.Round, n.Position}] = n
	t.nodeByID[n.ID] = n
}

func (t *Tree) addMatch(m *models.Match) {
	t.matches[m.ID] = m
	t.matchByNode[m.NodeID] = m
}

// Node returns the node at (round, position).
func (t *Tree) Node(round, position int) (*models.BracketNode, bool) {
	n, ok := t.nodes[nodeKey{round, position}]
	return n, ok
}

func (t *Tree) NodeByID(id uuid.UUID) (*models.BracketNode, bool) {
	n, ok := t.nodeByID[id]
	return n, ok
}

func (t *Tree) Match(id uuid.UUID) (*models.Match, bool) {
	m, ok := t.matches[id]
	return m, ok
}

// MatchForNode returns the match hosted by the node, if it was created already.
func (t *Tree) MatchForNode(nodeID uuid.UUID) (*models.Match, bool) {
	m, ok := t.matchByNode[nodeID]
	return m, ok
}

// Nodes returns all nodes ordered by round, then position.
func (t *Tree) Nodes() []*models.BracketNode {
	out := make([]*models.BracketNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Round != out[j].Round {
			return out[i].Round < out[j].Round
		}
		return out[i].Position < out[j].Position
	})
	return out
}

// Matches returns all created matches ordered by round, then position.
func (t *Tree) Matches() []*models.Match {
	out := make([]*models.Match, 0, len(t.matches))
	for _, m := range t.matches {
		out = append(out, m)
	}
	sortMatches(out)
	return out
}

// RoundNodes returns the nodes of one round ordered by position.
func (t *Tree) RoundNodes(round int) []*models.BracketNode {
	if round < 1 || round > t.Rounds {
		return nil
	}
	count := t.Size >> round
	out := make([]*models.BracketNode, 0, count)
	for p := 0; p < count; p++ {
		if n, ok := t.nodes[nodeKey{round, p}]; ok {
			out = append(out, n)
		}
	}
	return out
}

// ByeCount is the number of round-1 nodes that carry a bye.
func (t *Tree) ByeCount() int {
	byes := 0
	for _, n := range t.RoundNodes(1) {
		if n.HasBye() {
			byes++
		}
	}
	return byes
}

// Complete reports whether every node of every round has a winner.
func (t *Tree) Complete() bool {
	for _, n := range t.nodes {
		if n.WinnerTeamID == nil {
			return false
		}
	}
	return len(t.nodes) > 0
}

// State returns the tournament columns the tree owns.
func (t *Tree) State() *models.Tournament {
	return &models.Tournament{
		ID:             t.TournamentID,
		Status:         t.Status,
		BracketSize:    t.Size,
		Rounds:         t.Rounds,
		ChampionTeamID: copyInt(t.ChampionTeamID),
	}
}

// Changes returns the mutations recorded since the tree was built or loaded.
func (t *Tree) Changes() *ChangeSet {
	return t.changes
}

// ResetChanges starts a fresh change set, typically after the previous one was
// persisted.
func (t *Tree) ResetChanges() {
	t.changes = newChangeSet()
}

func (t *Tree) createMatch(node *models.BracketNode, at time.Time) (*models.Match, error) {
	if _, exists := t.matchByNode[node.ID]; exists {
		return nil, fmt.Errorf("%w: node %s already hosts a match", ErrCorruptTree, node.ID)
	}
	if !node.Ready() {
		return nil, fmt.Errorf("%w: node %s", ErrMatchNotReady, node.ID)
	}

	m := &models.Match{
		ID:           newID(),
		NodeID:       node.ID,
		TournamentID: t.TournamentID,
		Round:        node.Round,
		Position:     node.Position,
		Status:       models.MatchStatusPending,
		CreatedAt:    at,
	}
	switch {
	case node.SlotA.State == models.SlotTeam && node.SlotB.State == models.SlotTeam:
		m.TeamAID = *node.SlotA.TeamID
		m.TeamBID = copyInt(node.SlotB.TeamID)
	case node.SlotA.State == models.SlotTeam && node.SlotB.State == models.SlotBye:
		m.TeamAID = *node.SlotA.TeamID
		m.IsBye = true
	case node.SlotB.State == models.SlotTeam && node.SlotA.State == models.SlotBye:
		m.TeamAID = *node.SlotB.TeamID
		m.IsBye = true
	default:
		return nil, fmt.Errorf("%w: node %s has no team in either slot", ErrCorruptTree, node.ID)
	}

	t.addMatch(m)
	t.changes.matchCreated(m)
	return m, nil
}

func sortMatches(ms []*models.Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Round != ms[j].Round {
			return ms[i].Round < ms[j].Round
		}
		return ms[i].Position < ms[j].Position
	})
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// ChangeSet lists what a builder or state machine call changed, in the order the
// persistence layer must write it.
type ChangeSet struct {
	CreatedNodes      []*models.BracketNode
	UpdatedNodes      []*models.BracketNode
	CreatedMatches    []*models.Match
	UpdatedMatches    []*models.Match
	TournamentChanged bool

	createdNodeIDs  map[uuid.UUID]bool
	updatedNodeIDs  map[uuid.UUID]bool
	createdMatchIDs map[uuid.UUID]bool
	updatedMatchIDs map[uuid.UUID]bool
}

func newChangeSet() *ChangeSet {
	return &ChangeSet{
		createdNodeIDs:  make(map[uuid.UUID]bool),
		updatedNodeIDs:  make(map[uuid.UUID]bool),
		createdMatchIDs: make(map[uuid.UUID]bool),
		updatedMatchIDs: make(map[uuid.UUID]bool),
	}
}

func (c *ChangeSet) Empty() bool {
	return len(c.CreatedNodes) == 0 && len(c.UpdatedNodes) == 0 &&
		len(c.CreatedMatches) == 0 && len(c.UpdatedMatches) == 0 && !c.TournamentChanged
}

func (c *ChangeSet) nodeCreated(n *models.BracketNode) {
	if c.createdNodeIDs[n.ID] {
		return
	}
	c.createdNodeIDs[n.ID] = true
	c.CreatedNodes = append(c.CreatedNodes, n)
}

func (c *ChangeSet) nodeUpdated(n *models.BracketNode) {
	// New nodes are written with their final state.
	if c.createdNodeIDs[n.ID] || c.updatedNodeIDs[n.ID] {
		return
	}
	c.updatedNodeIDs[n.ID] = true
	c.UpdatedNodes = append(c.UpdatedNodes, n)
}

func (c *ChangeSet) matchCreated(m *models.Match) {
	if c.createdMatchIDs[m.ID] {
		return
	}
	c.createdMatchIDs[m.ID] = true
	c.CreatedMatches = append(c.CreatedMatches, m)
}

func (c *ChangeSet) matchUpdated(m *models.Match) {
	if c.createdMatchIDs[m.ID] || c.updatedMatchIDs[m.ID] {
		return
	}
	c.updatedMatchIDs[m.ID] = true
	c.UpdatedMatches = append(c.UpdatedMatches, m)
}
