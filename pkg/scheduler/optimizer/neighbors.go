// Package optimizer 提供排班方案的局部搜索优化
package optimizer

import (
	"math/rand"

	"github.com/opmed/opmed/pkg/scheduler/problem"
)

// MoveType 邻域移动类型
type MoveType int

const (
	MoveReassign MoveType = iota // 将一台手术换给另一位麻醉师
	MoveSwap                     // 交换两台手术的麻醉师
	MoveRoom                     // 将一台手术换到另一间手术室
)

// NeighborhoodGenerator 邻域生成器
type NeighborhoodGenerator struct {
	rng         *rand.Rand
	moveWeights map[MoveType]float64
}

// NewNeighborhoodGenerator 创建邻域生成器
func NewNeighborhoodGenerator(rng *rand.Rand) *NeighborhoodGenerator {
	return &NeighborhoodGenerator{
		rng: rng,
		moveWeights: map[MoveType]float64{
			MoveReassign: 0.40, // 40% 改派麻醉师
			MoveSwap:     0.35, // 35% 交换麻醉师
			MoveRoom:     0.25, // 25% 换手术室
		},
	}
}

// GenerateNeighbor 生成邻域解，可行性由调用方评估
func (n *NeighborhoodGenerator) GenerateNeighbor(prob *problem.Problem, current *Solution) *Solution {
	if current == nil || len(current.Anesthetist) == 0 {
		return nil
	}

	switch n.selectMoveType() {
	case MoveReassign:
		return n.generateReassignMove(prob, current)
	case MoveSwap:
		return n.generateSwapMove(current)
	case MoveRoom:
		return n.generateRoomMove(prob, current)
	default:
		return n.generateReassignMove(prob, current)
	}
}

// selectMoveType 按权重选择移动类型
func (n *NeighborhoodGenerator) selectMoveType() MoveType {
	r := n.rng.Float64()
	cumulative := 0.0

	for _, moveType := range []MoveType{MoveReassign, MoveSwap, MoveRoom} {
		cumulative += n.moveWeights[moveType]
		if r < cumulative {
			return moveType
		}
	}

	return MoveReassign
}

// generateReassignMove 将随机一台手术改派给另一位麻醉师
func (n *NeighborhoodGenerator) generateReassignMove(prob *problem.Problem, current *Solution) *Solution {
	if len(prob.Anesthetists) < 2 {
		return nil
	}

	neighbor := current.Clone()

	i := n.rng.Intn(len(neighbor.Anesthetist))
	a := n.rng.Intn(len(prob.Anesthetists))
	if a == neighbor.Anesthetist[i] {
		return nil
	}
	neighbor.Anesthetist[i] = a

	return neighbor
}

// generateSwapMove 交换两台手术的麻醉师
func (n *NeighborhoodGenerator) generateSwapMove(current *Solution) *Solution {
	if len(current.Anesthetist) < 2 {
		return nil
	}

	neighbor := current.Clone()

	i := n.rng.Intn(len(neighbor.Anesthetist))
	j := n.rng.Intn(len(neighbor.Anesthetist))
	for j == i {
		j = n.rng.Intn(len(neighbor.Anesthetist))
	}
	if neighbor.Anesthetist[i] == neighbor.Anesthetist[j] {
		return nil
	}

	neighbor.Anesthetist[i], neighbor.Anesthetist[j] =
		neighbor.Anesthetist[j], neighbor.Anesthetist[i]

	return neighbor
}

// generateRoomMove 将随机一台未钉定手术室的手术换到另一间手术室
func (n *NeighborhoodGenerator) generateRoomMove(prob *problem.Problem, current *Solution) *Solution {
	if len(prob.Rooms) < 2 {
		return nil
	}

	neighbor := current.Clone()

	i := n.rng.Intn(len(neighbor.Room))
	if prob.RoomPin[i] >= 0 {
		return nil // 钉定手术室的手术不可移动
	}
	r := n.rng.Intn(len(prob.Rooms))
	if r == neighbor.Room[i] {
		return nil
	}
	neighbor.Room[i] = r

	return neighbor
}

// SetMoveWeights 设置移动类型权重
func (n *NeighborhoodGenerator) SetMoveWeights(weights map[MoveType]float64) {
	n.moveWeights = weights
}
