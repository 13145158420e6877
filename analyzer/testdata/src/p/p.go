package p

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/go-durable/durable/workflow"
)

func wf(ctx workflow.Context) error {
	return nil
}

func wfWithResult(ctx workflow.Context) (string, error) {
	return "", nil
}

func wfWithTooManyResults(ctx workflow.Context) (int, string, error) { // want "workflow \"wfWithTooManyResults\" returns more than two values"
	return 42, "", nil
}

func wfWrongOrder(ctx workflow.Context) (error, string) { // want "workflow \"wfWrongOrder\" doesn't return `error` as last return value"
	return nil, ""
}

func wfWithoutReturn(ctx workflow.Context) { // want "workflow \"wfWithoutReturn\" doesn't return anything. needs to return at least `error`"
}

func wfIteratingOverMap(ctx workflow.Context) error {
	x := make(map[string]string)

	fmt.Println("log")

	if len(x) == 0 {
		for _, v := range x { // want "iterating over a map is not deterministic and not allowed in workflows"
			if v == "a" {
				return nil
			}
		}
	}

	// Slices are fine
	for _, v := range []string{"a"} {
		fmt.Println(v)
	}

	return nil
}

func wfUsingGoRoutine(ctx workflow.Context) error {
	go func() { // want "goroutines are not allowed in workflows, run concurrent work in a step"
		fmt.Println("hello")
	}()

	return nil
}

func wfUsingTime(ctx workflow.Context) error {
	start := time.Now() // want "use workflow.Now instead of time.Now in workflows"

	time.Sleep(time.Second) // want "use workflow.Sleep instead of time.Sleep in workflows"

	fmt.Println(start.Add(time.Minute))

	return nil
}

func wfUsingRand(ctx workflow.Context) (int, error) {
	return rand.Intn(10), nil // want "random numbers are not deterministic, generate them in a step"
}

func wfUsingSteps(ctx workflow.Context) (int, error) {
	if _, err := workflow.Now(ctx); err != nil {
		return 0, err
	}

	// Steps may do anything
	return workflow.ExecuteStep(ctx, func(ctx workflow.Context) (int, error) {
		time.Sleep(time.Millisecond)
		return rand.Intn(10), nil
	})
}

func notAWorkflow() time.Time {
	return time.Now()
}
