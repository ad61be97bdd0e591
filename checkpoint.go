package dagflow

import (
	"github.com/dagflow/dagflow/storage"
)

// Consistency classifies, for one source, how far every descendant node has
// durably committed that source's sequence numbers.
type Consistency struct {
	// Fully is true when every descendant of the source reports the same
	// committed sequence number, in which case Seq holds it.
	Fully bool
	Seq   uint64
	// Partition groups descendant node handles by the sequence number each
	// one has committed, populated only when Fully is false.
	Partition map[uint64][]NodeHandle
}

// CheckpointMetadata is one node's persisted checkpoint state: the highest
// committed sequence per upstream source, plus its input and output
// schemas at the time of the last schema handshake.
type CheckpointMetadata struct {
	Commits       map[NodeHandle]uint64
	InputSchemas  map[PortHandle]Schema
	OutputSchemas map[PortHandle]Schema
}

// Analyzer reads persisted checkpoint state across a DAG and classifies
// recovery consistency per source.
type Analyzer struct {
	basePath string
}

// NewAnalyzer builds an Analyzer rooted at basePath.
func NewAnalyzer(basePath string) *Analyzer {
	return &Analyzer{basePath: basePath}
}

// Analyze reads every node's checkpoint env, builds a dependency tree per
// source by forward-walking dag.Edges, and classifies each source's
// consistency. A node whose env is missing or corrupt is removed and
// skipped rather than failing the whole analysis.
func (a *Analyzer) Analyze(dag *DAG) (map[NodeHandle]Consistency, error) {
	metadata := a.readAll(dag)

	trees := map[NodeHandle]*depNode{}
	for handle, node := range dag.Nodes {
		if node.Kind == KindSource {
			root := &depNode{handle: handle}
			buildDependencyTree(root, dag)
			trees[handle] = root
		}
	}

	result := map[NodeHandle]Consistency{}
	for source, root := range trees {
		buckets := map[uint64][]NodeHandle{}
		collectConsistency(source, root, metadata, buckets)

		if len(buckets) == 1 {
			for seq := range buckets {
				result[source] = Consistency{Fully: true, Seq: seq}
			}
		} else {
			result[source] = Consistency{Fully: false, Partition: buckets}
		}
	}

	return result, nil
}

type depNode struct {
	handle   NodeHandle
	children []*depNode
}

func buildDependencyTree(curr *depNode, dag *DAG) {
	for _, e := range dag.Edges {
		if e.From.Node == curr.handle {
			child := &depNode{handle: e.To.Node}
			buildDependencyTree(child, dag)
			curr.children = append(curr.children, child)
		}
	}
}

func collectConsistency(source NodeHandle, node *depNode, metadata map[NodeHandle]CheckpointMetadata, buckets map[uint64][]NodeHandle) {
	seq := uint64(0)
	if meta, ok := metadata[node.handle]; ok {
		seq = meta.Commits[source]
	}
	buckets[seq] = append(buckets[seq], node.handle)

	for _, child := range node.children {
		collectConsistency(source, child, metadata, buckets)
	}
}

// readAll attempts to read every node's checkpoint metadata, removing the
// stale env file of any node whose state is missing or unreadable and
// omitting it from the result, per spec scenario 6 (corrupted env).
func (a *Analyzer) readAll(dag *DAG) map[NodeHandle]CheckpointMetadata {
	all := map[NodeHandle]CheckpointMetadata{}
	for handle := range dag.Nodes {
		meta, err := a.readNode(string(handle))
		if err != nil {
			_ = storage.Remove(a.basePath, string(handle))
			continue
		}
		all[handle] = meta
	}
	return all
}

func (a *Analyzer) readNode(name string) (CheckpointMetadata, error) {
	if !storage.Exists(a.basePath, name) {
		return CheckpointMetadata{}, newErr(ErrInvalidCheckpointState, NodeHandle(name), "")
	}

	env, err := storage.Open(a.basePath, name)
	if err != nil {
		return CheckpointMetadata{}, wrapErr(ErrInvalidCheckpointState, NodeHandle(name), err)
	}
	defer env.Close()

	meta := CheckpointMetadata{
		Commits:       map[NodeHandle]uint64{},
		InputSchemas:  map[PortHandle]Schema{},
		OutputSchemas: map[PortHandle]Schema{},
	}

	err = env.Walk(func(rec storage.Record) error {
		switch rec.Tag {
		case storage.TagSourceID:
			seq, err := decodeBigEndianU64(rec.Value)
			if err != nil {
				return wrapErr(ErrDeserialization, NodeHandle(name), err)
			}
			meta.Commits[NodeHandle(rec.Key)] = seq

		case storage.TagOutputSchema:
			port, err := decodePortHandle(rec.Key)
			if err != nil {
				return err
			}
			schema, err := decodeSchema(rec.Value)
			if err != nil {
				return wrapErr(ErrDeserialization, NodeHandle(name), err)
			}
			meta.OutputSchemas[port] = schema

		case storage.TagInputSchema:
			port, err := decodePortHandle(rec.Key)
			if err != nil {
				return err
			}
			schema, err := decodeSchema(rec.Value)
			if err != nil {
				return wrapErr(ErrDeserialization, NodeHandle(name), err)
			}
			meta.InputSchemas[port] = schema

		default:
			return newErr(ErrInvalidCheckpointState, NodeHandle(name), "unknown record tag")
		}
		return nil
	})
	if err != nil {
		return CheckpointMetadata{}, err
	}

	return meta, nil
}

func decodeBigEndianU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, newErr(ErrDeserialization, "", "expected 8-byte sequence number")
	}
	var v uint64
	for _, by := range b {
		v = v<<8 | uint64(by)
	}
	return v, nil
}

func decodePortHandle(key []byte) (PortHandle, error) {
	if len(key) != 2 {
		return 0, &ExecutionError{Kind: ErrInvalidPortHandle}
	}
	return PortHandle(uint16(key[0])<<8 | uint16(key[1])), nil
}
