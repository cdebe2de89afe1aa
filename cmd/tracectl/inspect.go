package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adalundhe/retrace/core/condition"
	"github.com/adalundhe/retrace/core/forest"
	"github.com/adalundhe/retrace/core/template"
	"github.com/adalundhe/retrace/core/traceid"
)

var inspectParallelism int

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Build one recorded template against a canned fill+copy body and dump its instruction stream",
	Long:  `inspect records a small fill+copy body directly against a template, finalizes and optimizes it, then prints its instruction list, replay slices, and condition sets for diagnostics.`,
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntVar(&inspectParallelism, "parallelism", 2, "Replay slice count to partition the recorded body into")
}

func runInspect(cmd *cobra.Command, args []string) error {
	tmpl := template.New(1, inspectParallelism, 0)

	term := tmpl.RecordGetTermEvent(traceid.OperationHandle{ID: 1, Kind: traceid.OpKindFill, ReqCount: 1})

	srcView := condition.View{ID: 1, RegionTreeID: 1}
	dstView := condition.View{ID: 2, RegionTreeID: 1}
	mask := traceid.FieldMaskFromBits(0, 1)

	fillOut := tmpl.RecordIssueFill(
		forest.IndexSpaceExpression{Opaque: 1},
		forest.FillSpec{DstView: srcView, Bytes: []byte{0xFF}},
		term,
		condition.EquivalenceSetID(1),
		mask,
	)
	copyOut := tmpl.RecordIssueCopy(
		forest.IndexSpaceExpression{Opaque: 2},
		forest.CopySpec{SrcView: srcView, DstView: dstView},
		fillOut,
		condition.EquivalenceSetID(1),
		condition.EquivalenceSetID(2),
		mask,
		mask,
	)
	tmpl.RecordCompleteReplay(traceid.TraceLocalID{OpIndex: 0}, copyOut)

	if err := tmpl.Finalize(false); err != nil {
		fmt.Printf("finalize: non-replayable (%v)\n", err)
	}
	tmpl.Optimize()

	fmt.Println("=== Instructions ===")
	for i, instr := range tmpl.Instructions() {
		fmt.Printf("%3d  %-16s reads=%v writes=%v\n", i, instr.Kind(), instr.Reads(), instr.Writes())
	}

	fmt.Println()
	fmt.Println("=== Replay slices ===")
	for i, slice := range tmpl.Slices() {
		fmt.Printf("slice %d: %v\n", i, slice)
	}

	fmt.Println()
	fmt.Println("=== Preconditions ===")
	tmpl.Pre().Triples(func(v condition.View, eq condition.EquivalenceSetID, mask traceid.FieldMask) {
		fmt.Printf("  view=%d eq=%d mask=%v\n", v.ID, eq, mask)
	})

	fmt.Println("=== Postconditions ===")
	tmpl.Post().Triples(func(v condition.View, eq condition.EquivalenceSetID, mask traceid.FieldMask) {
		fmt.Printf("  view=%d eq=%d mask=%v\n", v.ID, eq, mask)
	})

	fmt.Printf("\nreplayable: %v\n", tmpl.IsReplayable())
	return nil
}
