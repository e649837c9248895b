// kestrel-train - Trains the Kestrel default risk model.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func main() {
	var (
		dataPath  = flag.String("data", "", "training data CSV (generated when empty)")
		outPath   = flag.String("out", "./artifacts/model_latest.json", "artifact output path")
		dbPath    = flag.String("db", "", "sqlite database to register the model in (optional)")
		generateN = flag.Int("generate", 2000, "number of synthetic rows when -data is empty")
		seed      = flag.Int64("seed", 42, "random seed for data generation and holdout split")
		epochs    = flag.Int("epochs", 500, "gradient descent epochs")
		lr        = flag.Float64("lr", 0.1, "learning rate")
		l2        = flag.Float64("l2", 0.001, "L2 regularization strength")
		holdout   = flag.Float64("holdout", 0.2, "holdout fraction for evaluation")
		version   = flag.String("version", "", "model version (timestamp-derived when empty)")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var apps []*domain.CreditApplication
	var err error

	if *dataPath != "" {
		apps, err = loadCSV(*dataPath)
		if err != nil {
			slog.Error("failed to load training data", "path", *dataPath, "error", err)
			os.Exit(1)
		}
		slog.Info("training data loaded", "path", *dataPath, "rows", len(apps))
	} else {
		apps = generateSyntheticData(*generateN, *seed)
		slog.Info("synthetic training data generated", "rows", len(apps), "seed", *seed)
	}

	labeled := apps[:0:0]
	for _, app := range apps {
		if app.IsDefault != nil {
			labeled = append(labeled, app)
		}
	}
	if len(labeled) < 10 {
		slog.Error("not enough labeled rows to train", "labeled", len(labeled))
		os.Exit(1)
	}

	// Shuffled holdout split
	rng := rand.New(rand.NewSource(*seed))
	rng.Shuffle(len(labeled), func(i, j int) {
		labeled[i], labeled[j] = labeled[j], labeled[i]
	})
	split := len(labeled) - int(float64(len(labeled))**holdout)
	if split <= 0 || split >= len(labeled) {
		split = len(labeled)
	}
	trainSet, testSet := labeled[:split], labeled[split:]

	// Fit the vectorizer on the training split only
	vec, err := feature.Fit(trainSet)
	if err != nil {
		slog.Error("failed to fit vectorizer", "error", err)
		os.Exit(1)
	}
	slog.Info("vectorizer fitted", "features", vec.Width())

	trainX, trainY, err := transformAll(vec, trainSet)
	if err != nil {
		slog.Error("failed to vectorize training split", "error", err)
		os.Exit(1)
	}
	testX, testY, err := transformAll(vec, testSet)
	if err != nil {
		slog.Error("failed to vectorize holdout split", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	m, err := model.Train(trainX, trainY, model.TrainConfig{
		Epochs:       *epochs,
		LearningRate: *lr,
		L2:           *l2,
	})
	if err != nil {
		slog.Error("training failed", "error", err)
		os.Exit(1)
	}
	slog.Info("model trained",
		"rows", len(trainX),
		"epochs", *epochs,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	// Evaluate on the holdout split (training split when no holdout)
	evalX, evalY := testX, testY
	if len(evalX) == 0 {
		evalX, evalY = trainX, trainY
	}
	probs := predictAll(m, evalX)
	metrics := model.Metrics{
		Accuracy: model.Accuracy(probs, evalY),
		AUC:      model.AUC(probs, evalY),
		Samples:  len(evalY),
	}
	slog.Info("holdout evaluation",
		"samples", metrics.Samples,
		"accuracy", metrics.Accuracy,
		"auc", metrics.AUC,
	)

	modelVersion := *version
	if modelVersion == "" {
		modelVersion = "v" + time.Now().UTC().Format("20060102-150405")
	}

	artifact := &model.Artifact{
		ModelVersion: modelVersion,
		TrainedAt:    time.Now().UTC().Format(time.RFC3339),
		Model:        m,
		Vectorizer:   vec,
		Metrics:      metrics,
	}
	if err := model.SaveArtifact(artifact, *outPath); err != nil {
		slog.Error("failed to save artifact", "path", *outPath, "error", err)
		os.Exit(1)
	}
	slog.Info("artifact saved", "path", *outPath, "version", modelVersion)

	if *dbPath != "" {
		if err := registerModel(artifact, *dbPath, *outPath); err != nil {
			slog.Error("failed to register model", "db", *dbPath, "error", err)
			os.Exit(1)
		}
		slog.Info("model registered as active", "db", *dbPath, "version", modelVersion)
	}

	printImportance(vec.FeatureNames(), m.FeatureWeights())
}

// transformAll vectorizes applications in parallel and extracts labels.
func transformAll(vec *feature.FittedVectorizer, apps []*domain.CreditApplication) ([][]float64, []int, error) {
	features := make([][]float64, len(apps))
	labels := make([]int, len(apps))

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, app := range apps {
		g.Go(func() error {
			row, err := vec.Transform(app)
			if err != nil {
				return fmt.Errorf("row %d (%s): %w", i, app.ApplicationID, err)
			}
			features[i] = row
			if app.IsDefault != nil {
				labels[i] = *app.IsDefault
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return features, labels, nil
}

func predictAll(m *model.Logistic, features [][]float64) []float64 {
	probs := make([]float64, len(features))
	for i, row := range features {
		p, err := m.PredictProbability(context.Background(), row)
		if err == nil {
			probs[i] = p
		}
	}
	return probs
}

func registerModel(artifact *model.Artifact, dbPath, artifactPath string) error {
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: dbPath,
	})
	if err != nil {
		return err
	}
	defer repo.Close()

	abs, err := filepath.Abs(artifactPath)
	if err != nil {
		abs = artifactPath
	}

	return repo.SaveModelRecord(context.Background(), &domain.ModelRecord{
		Version:      artifact.ModelVersion,
		TrainedAt:    artifact.TrainedAt,
		Accuracy:     artifact.Metrics.Accuracy,
		AUC:          artifact.Metrics.AUC,
		FeatureCount: artifact.Vectorizer.Width(),
		ArtifactPath: abs,
		Active:       true,
	})
}

func printImportance(names []string, weights []float64) {
	ranked, err := explain.GlobalImportance(names, weights)
	if err != nil {
		return
	}

	fmt.Println()
	fmt.Println("Top feature importance (|weight|):")
	for i, fc := range ranked {
		if i >= 10 {
			break
		}
		fmt.Printf("  %2d. %-40s %+.4f\n", i+1, fc.Feature, fc.Contribution)
	}
	fmt.Println()
}

// generateSyntheticData produces labeled applications with injected
// risk signal: the default label is drawn from a sigmoid over known
// risk factors (high DSR, delinquencies, unemployment, high card
// utilization, young age), so a trained model has signal to recover.
func generateSyntheticData(n int, seed int64) []*domain.CreditApplication {
	rng := rand.New(rand.NewSource(seed))

	educations := []domain.Education{
		domain.EducationSD, domain.EducationSMP, domain.EducationSMA,
		domain.EducationD3, domain.EducationS1, domain.EducationS2, domain.EducationS3,
	}
	educationWeights := []float64{0.1, 0.1, 0.4, 0.1, 0.2, 0.05, 0.05}
	baseIncome := map[domain.Education]float64{
		domain.EducationSD: 3e6, domain.EducationSMP: 4e6, domain.EducationSMA: 5e6,
		domain.EducationD3: 7e6, domain.EducationS1: 10e6, domain.EducationS2: 15e6,
		domain.EducationS3: 20e6,
	}
	employments := []domain.EmploymentStatus{
		domain.EmploymentPermanent, domain.EmploymentContract,
		domain.EmploymentSelfEmployed, domain.EmploymentUnemployed,
	}
	employmentWeights := []float64{0.6, 0.2, 0.15, 0.05}
	genders := []domain.Gender{domain.GenderMale, domain.GenderFemale}
	maritalStatuses := []string{"SINGLE", "MARRIED", "DIVORCED"}
	housingTypes := []domain.HousingType{domain.HousingOwned, domain.HousingRented, domain.HousingParents}
	terms := []int{6, 12, 24, 36, 48, 60}

	apps := make([]*domain.CreditApplication, 0, n)
	for i := 0; i < n; i++ {
		age := 21 + rng.Intn(39)
		education := weightedChoice(rng, educations, educationWeights)
		employment := weightedChoice(rng, employments, employmentWeights)
		annualIncome := baseIncome[education] * (0.8 + 1.2*rng.Float64()) * 12

		existingLoans := poisson(rng, 1.0)
		totalDebt := float64(existingLoans) * (1e6 + rng.Float64()*49e6)
		utilization := beta(rng, 2, 5)
		delinquencies := poisson(rng, 0.2)

		loanAmount := 10e6 + rng.Float64()*190e6
		term := terms[rng.Intn(len(terms))]

		monthlyIncome := annualIncome / 12
		dsr := (totalDebt*0.03 + loanAmount/float64(term)) / monthlyIncome

		riskScore := 0.0
		if dsr > 0.4 {
			riskScore += 2
		}
		if delinquencies > 0 {
			riskScore += 3
		}
		if employment == domain.EmploymentUnemployed {
			riskScore += 4
		}
		if utilization > 0.7 {
			riskScore += 2
		}
		if age < 25 {
			riskScore += 1
		}

		probDefault := 1 / (1 + math.Exp(-(riskScore - 3)))
		isDefault := 0
		if rng.Float64() < probDefault {
			isDefault = 1
		}

		apps = append(apps, &domain.CreditApplication{
			ApplicationID:         uuid.New().String(),
			Age:                   age,
			Gender:                genders[rng.Intn(len(genders))],
			MaritalStatus:         maritalStatuses[rng.Intn(len(maritalStatuses))],
			Education:             education,
			HousingType:           housingTypes[rng.Intn(len(housingTypes))],
			AnnualIncome:          math.Trunc(annualIncome),
			EmploymentStatus:      employment,
			WorkExperienceYears:   rng.Intn(maxInt(age-18, 1)),
			ExistingLoansCount:    existingLoans,
			TotalExistingDebt:     math.Trunc(totalDebt),
			CreditCardUtilization: math.Round(utilization*100) / 100,
			PastDelinquencies:     delinquencies,
			LoanAmount:            math.Trunc(loanAmount),
			LoanTermMonths:        term,
			IsDefault:             &isDefault,
		})
	}

	return apps
}

func weightedChoice[T any](rng *rand.Rand, values []T, weights []float64) T {
	r := rng.Float64()
	var cum float64
	for i, w := range weights {
		cum += w
		if r < cum {
			return values[i]
		}
	}
	return values[len(values)-1]
}

// poisson draws from Poisson(lambda) using Knuth's method.
func poisson(rng *rand.Rand, lambda float64) int {
	limit := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= limit {
			return k
		}
		k++
	}
}

// beta draws from Beta(a, b) for integer shape parameters via the
// gamma ratio.
func beta(rng *rand.Rand, a, b int) float64 {
	ga := gammaInt(rng, a)
	gb := gammaInt(rng, b)
	if ga+gb == 0 {
		return 0
	}
	return ga / (ga + gb)
}

// gammaInt draws from Gamma(k, 1) for integer k as a sum of
// exponentials.
func gammaInt(rng *rand.Rand, k int) float64 {
	var sum float64
	for i := 0; i < k; i++ {
		sum -= math.Log(1 - rng.Float64())
	}
	return sum
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// loadCSV reads training rows in the column layout produced by the
// synthetic generator.
func loadCSV(path string) ([]*domain.CreditApplication, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("csv %s has no data rows", path)
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}
	required := []string{
		"application_id", "age", "gender", "marital_status", "education",
		"housing_type", "annual_income", "employment_status",
		"work_experience_years", "existing_loans_count", "total_existing_debt",
		"credit_card_utilization", "past_delinquencies",
		"loan_amount", "loan_term_months",
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("csv %s is missing column %q", path, name)
		}
	}

	apps := make([]*domain.CreditApplication, 0, len(records)-1)
	for rowNum, row := range records[1:] {
		app := &domain.CreditApplication{
			ApplicationID: row[col["application_id"]],
			Gender:        domain.Gender(row[col["gender"]]),
			MaritalStatus: row[col["marital_status"]],
			Education:     domain.Education(row[col["education"]]),
			HousingType:   domain.HousingType(row[col["housing_type"]]),
		}

		var parseErr error
		getInt := func(name string) int {
			v, err := strconv.Atoi(row[col[name]])
			if err != nil && parseErr == nil {
				parseErr = fmt.Errorf("row %d: bad %s: %w", rowNum+2, name, err)
			}
			return v
		}
		getFloat := func(name string) float64 {
			v, err := strconv.ParseFloat(row[col[name]], 64)
			if err != nil && parseErr == nil {
				parseErr = fmt.Errorf("row %d: bad %s: %w", rowNum+2, name, err)
			}
			return v
		}

		app.Age = getInt("age")
		app.AnnualIncome = getFloat("annual_income")
		app.EmploymentStatus = domain.EmploymentStatus(row[col["employment_status"]])
		app.WorkExperienceYears = getInt("work_experience_years")
		app.ExistingLoansCount = getInt("existing_loans_count")
		app.TotalExistingDebt = getFloat("total_existing_debt")
		app.CreditCardUtilization = getFloat("credit_card_utilization")
		app.PastDelinquencies = getInt("past_delinquencies")
		app.LoanAmount = getFloat("loan_amount")
		app.LoanTermMonths = getInt("loan_term_months")

		if idx, ok := col["is_default"]; ok && row[idx] != "" {
			label := getInt("is_default")
			app.IsDefault = &label
		}
		if parseErr != nil {
			return nil, parseErr
		}

		apps = append(apps, app)
	}

	return apps, nil
}
