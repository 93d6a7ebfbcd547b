package fetch

import "fmt"

func errBudgetDenied(provider string) error {
	return fmt.Errorf("rate budget for %s not granted", provider)
}

func errBudgetUnsatisfiable(provider string, weight int) error {
	return fmt.Errorf("weight %d can never fit the %s budget ceiling", weight, provider)
}
