// Selfplay runs search-vs-search games from the initial position and prints
// engine-style info lines. With -model it evaluates positions through an
// ONNX network; without, it falls back to the material evaluator.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/muesli/termenv"

	"github.com/Etcaqab/lc0/pkg/chess"
	"github.com/Etcaqab/lc0/pkg/mcts"
	"github.com/Etcaqab/lc0/pkg/nn"
	"github.com/Etcaqab/lc0/pkg/search"
)

func main() {
	games := flag.Int("games", 1, "number of games to play")
	movetime := flag.Int("movetime", 1000, "milliseconds per move")
	threads := flag.Int("threads", 4, "search workers per move")
	maxPlies := flag.Int("maxplies", 300, "adjudicate as draw after this many plies")
	modelPath := flag.String("model", "", "path to an ONNX model (empty: material evaluator)")
	noise := flag.Float64("noise", 0.25, "dirichlet noise fraction at the root")
	dotPath := flag.String("dot", "", "write the final game's tree as Graphviz dot to this file")
	flag.Parse()

	evaluator, closeEval, err := makeEvaluator(*modelPath)
	if err != nil {
		log.Fatalf("evaluator: %v", err)
	}
	defer closeEval()

	out := termenv.NewOutput(os.Stdout)
	infoStyle := out.String("info").Foreground(out.Color("6"))
	moveStyle := func(s string) termenv.Style { return out.String(s).Bold() }
	resultStyle := func(s string) termenv.Style { return out.String(s).Foreground(out.Color("3")).Bold() }

	params := search.DefaultParams()
	params.DirichletEpsilon = *noise

	for game := 0; game < *games; game++ {
		gameID := uuid.NewString()
		fmt.Printf("game %d/%d id %s\n", game+1, *games, gameID)

		tree := mcts.NewTree()
		if _, err := tree.ResetToPosition(chess.Startpos, nil); err != nil {
			log.Fatalf("reset: %v", err)
		}

		result := playGame(tree, evaluator, params, *movetime, *threads, *maxPlies, infoStyle, moveStyle)
		fmt.Printf("game %s: %s\n", gameID, resultStyle(result.String()))

		if *dotPath != "" && game == *games-1 {
			dot := tree.GetCurrentHead().DotGraphString(false)
			if err := os.WriteFile(*dotPath, []byte(dot), 0o644); err != nil {
				log.Printf("dot dump: %v", err)
			}
		}
	}
}

func makeEvaluator(modelPath string) (nn.Evaluator, func(), error) {
	if modelPath == "" {
		return nn.Material{}, func() {}, nil
	}
	onnx, err := nn.NewOnnx(modelPath)
	if err != nil {
		return nil, nil, err
	}
	return onnx, func() { _ = onnx.Close() }, nil
}

func playGame(
	tree *mcts.Tree,
	evaluator nn.Evaluator,
	params search.Params,
	movetime, threads, maxPlies int,
	infoStyle termenv.Style,
	moveStyle func(string) termenv.Style,
) chess.GameResult {
	for ply := 0; ply < maxPlies; ply++ {
		pos := tree.HeadPosition()
		moves := pos.LegalMoves()
		reps := tree.GetPositionHistory().Repetitions()
		if outcome, over := pos.Outcome(len(moves), reps); over {
			return outcome
		}

		searcher := search.NewSearcher(tree, evaluator, params)
		searcher.SetLimits(search.DefaultLimits().
			SetMovetime(movetime).
			SetThreads(threads))

		listener := search.NewStatsListener()
		listener.OnStop(func(info search.SearchInfo) {
			fmt.Printf("%s depth %d cycles %d cps %d eval %.3f pv %s\n",
				infoStyle, info.Depth, info.Cycles, info.Cps, info.Eval, movesString(info.Pv))
		})
		searcher.SetListener(listener)

		if err := searcher.Search(); err != nil {
			log.Fatalf("search: %v", err)
		}
		best, ok := searcher.BestMove()
		if !ok {
			return chess.Draw
		}
		fmt.Printf("ply %d %s\n", ply+1, moveStyle(best.String()))
		tree.MakeMove(best)
		tree.TTMaintenance()
	}
	return chess.Draw
}

func movesString(moves []chess.Move) string {
	s := ""
	for i, m := range moves {
		if i > 0 {
			s += " "
		}
		s += m.String()
	}
	return s
}
